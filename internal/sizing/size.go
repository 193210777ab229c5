// Package sizing provides overflow-checked offset and size arithmetic.
package sizing

import (
	"fmt"
	"math"
)

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// CheckRange verifies that [off, off+size) lies inside a source of total bytes.
func CheckRange(off, size uint64, total int64, overflowErr error) error {
	end, ok := AddUint64(off, size)
	if !ok {
		return overflowErr
	}
	if total < 0 || end > uint64(total) {
		return fmt.Errorf("%w: range %d+%d exceeds %d bytes", overflowErr, off, size, total)
	}
	return nil
}
