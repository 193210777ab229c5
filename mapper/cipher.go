package mapper

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// permutation maps each position of a 16-byte block to its source position.
var permutation = [16]int{12, 6, 9, 4, 3, 14, 1, 10, 13, 2, 7, 15, 0, 8, 5, 11}

var keystream = []byte("GeneratePackageMapper")

// Decrypt reverses the mapper obfuscation: block permutation, pair-swap
// reversal, then a repeating XOR keystream. The input is not modified.
func Decrypt(encrypted []byte) []byte {
	size := len(encrypted)
	out := make([]byte, size)

	offset := 0
	for ; offset+len(permutation) < size; offset += len(permutation) {
		for i, src := range permutation {
			out[offset+i] = encrypted[offset+src]
		}
	}
	copy(out[offset:], encrypted[offset:])

	swapPairs(out)
	xorKeystream(out)
	return out
}

// Encrypt applies the inverse passes of Decrypt in reverse order.
func Encrypt(plain []byte) []byte {
	size := len(plain)
	out := make([]byte, size)
	copy(out, plain)

	xorKeystream(out)
	swapPairs(out)

	tmp := make([]byte, size)
	offset := 0
	for ; offset+len(permutation) < size; offset += len(permutation) {
		for i, dst := range permutation {
			tmp[offset+dst] = out[offset+i]
		}
	}
	copy(tmp[offset:], out[offset:])
	return tmp
}

// swapPairs exchanges odd positions from the front with positions stepping
// back from the end. It is its own inverse.
func swapPairs(b []byte) {
	size := len(b)
	a, z := 1, size-1
	for n := (size/2 + 1) / 2; n > 0; n-- {
		b[a], b[z] = b[z], b[a]
		a += 2
		z -= 2
	}
}

func xorKeystream(b []byte) {
	for i := range b {
		b[i] ^= keystream[i%len(keystream)]
	}
}

// DecryptText decrypts a mapper source and returns its text. A leading
// UTF-8 byte-order mark is stripped; a UTF-16 one selects UTF-16 decoding.
func DecryptText(encrypted []byte) (string, error) {
	plain := Decrypt(encrypted)
	text, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), plain)
	if err != nil {
		return "", fmt.Errorf("%w: decode text: %w", ErrCorrupt, err)
	}
	return string(text), nil
}
