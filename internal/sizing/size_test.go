package sizing

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestConversions(t *testing.T) {
	t.Parallel()

	n, err := ToInt(42, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = ToInt(math.MaxUint64, errOverflow)
	require.ErrorIs(t, err, errOverflow)

	_, ok := AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestCheckRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		off     uint64
		size    uint64
		total   int64
		wantErr bool
	}{
		{"inside", 10, 20, 100, false},
		{"exact end", 80, 20, 100, false},
		{"past end", 90, 20, 100, true},
		{"wraps", math.MaxUint64, 2, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckRange(tt.off, tt.size, tt.total, errOverflow)
			if tt.wantErr {
				require.ErrorIs(t, err, errOverflow)
				return
			}
			require.NoError(t, err)
		})
	}
}
