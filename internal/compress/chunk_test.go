package compress

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/upkg/internal/format"
)

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestChunkRoundTrip(t *testing.T) {
	t.Parallel()

	dec := NewDecoder()
	tests := []struct {
		name      string
		flags     uint32
		size      int
		blockSize int
	}{
		{"zlib single block", format.CompressZlib, 1000, 0},
		{"zlib many blocks", format.CompressZlib, 10_000, 1024},
		{"zstd single block", format.CompressZstd, 4096, 0},
		{"zstd uneven tail", format.CompressZstd, 5000, 999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := testPayload(tt.size)
			chunk, err := EncodeChunk(tt.flags, data, tt.blockSize)
			require.NoError(t, err)

			codec, err := dec.Codec(tt.flags)
			require.NoError(t, err)

			out := make([]byte, len(data))
			require.NoError(t, DecodeChunk(codec, chunk, out))
			assert.True(t, bytes.Equal(data, out))
		})
	}
}

func TestDecodeChunkErrors(t *testing.T) {
	t.Parallel()

	dec := NewDecoder()
	codec, err := dec.Codec(format.CompressZlib)
	require.NoError(t, err)

	data := testPayload(2048)
	chunk, err := EncodeChunk(format.CompressZlib, data, 512)
	require.NoError(t, err)

	t.Run("wrong size", func(t *testing.T) {
		err := DecodeChunk(codec, chunk, make([]byte, 100))
		require.ErrorIs(t, err, format.ErrDecompression)
	})
	t.Run("truncated", func(t *testing.T) {
		err := DecodeChunk(codec, chunk[:len(chunk)-10], make([]byte, len(data)))
		require.ErrorIs(t, err, format.ErrDecompression)
	})
	t.Run("corrupt payload", func(t *testing.T) {
		bad := bytes.Clone(chunk)
		for i := 16 + 4*8; i < len(bad); i++ {
			bad[i] ^= 0xFF
		}
		err := DecodeChunk(codec, bad, make([]byte, len(data)))
		require.ErrorIs(t, err, format.ErrDecompression)
	})
	t.Run("bad tag", func(t *testing.T) {
		bad := bytes.Clone(chunk)
		bad[0] = 0
		err := DecodeChunk(codec, bad, make([]byte, len(data)))
		require.ErrorIs(t, err, format.ErrDecompression)
	})
}

func TestDecoderCodecSelection(t *testing.T) {
	t.Parallel()

	dec := NewDecoder()
	_, err := dec.Codec(format.CompressLZX)
	require.ErrorIs(t, err, format.ErrDecompression)

	_, err = dec.Codec(format.CompressLZO)
	require.NoError(t, err)

	called := false
	custom := NewDecoder(WithCodec(format.CompressLZX, CodecFunc(func(dst, src []byte) error {
		called = true
		copy(dst, src)
		return nil
	})))
	c, err := custom.Codec(format.CompressLZX)
	require.NoError(t, err)
	dst := make([]byte, 3)
	require.NoError(t, c.Decompress(dst, []byte("abc")))
	assert.True(t, called)
	assert.Equal(t, []byte("abc"), dst)
}

func TestZstdPoolReuse(t *testing.T) {
	t.Parallel()

	pool := NewZstdPool(64<<20, true)
	codec := NewDecoder(WithZstdPool(pool))
	c, err := codec.Codec(format.CompressZstd)
	require.NoError(t, err)

	data := testPayload(3000)
	chunk, err := EncodeChunk(format.CompressZstd, data, 1000)
	require.NoError(t, err)
	for range 3 {
		out := make([]byte, len(data))
		require.NoError(t, DecodeChunk(c, chunk, out))
		assert.Equal(t, data, out)
	}
}

// oversizedBlock returns a zstd frame of 64 bytes for a block declared at 8.
func oversizedBlock(t *testing.T) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(testPayload(64), nil)
}

func TestZstdOversizedBlockKeepsNeighbours(t *testing.T) {
	t.Parallel()

	c, err := NewDecoder().Codec(format.CompressZstd)
	require.NoError(t, err)
	frame := oversizedBlock(t)

	t.Run("codec", func(t *testing.T) {
		t.Parallel()
		buf := bytes.Repeat([]byte{'.'}, 72)
		err := c.Decompress(buf[0:8], frame)
		require.ErrorIs(t, err, format.ErrDecompression)
		assert.Equal(t, bytes.Repeat([]byte{'.'}, 64), buf[8:])
	})

	t.Run("chunk", func(t *testing.T) {
		t.Parallel()
		var w format.Writer
		w.PutUint32(format.PackageTag)
		w.PutUint32(8)
		w.PutUint32(uint32(len(frame))) //nolint:gosec // test data
		w.PutUint32(8)
		w.PutUint32(uint32(len(frame))) //nolint:gosec // test data
		w.PutUint32(8)
		w.PutBytes(frame)

		buf := bytes.Repeat([]byte{'.'}, 72)
		err := DecodeChunk(c, w.Bytes(), buf[:8])
		require.ErrorIs(t, err, format.ErrDecompression)
		assert.Equal(t, bytes.Repeat([]byte{'.'}, 64), buf[8:])
	})
}

func TestDecodeChunkCapsCodecOutput(t *testing.T) {
	t.Parallel()

	data := testPayload(256)
	chunk, err := EncodeChunk(format.CompressZlib, data, 128)
	require.NoError(t, err)

	// A codec that appends to dst[:0] sees only its own block.
	var caps []int
	codec := CodecFunc(func(dst, _ []byte) error {
		caps = append(caps, cap(dst))
		return nil
	})
	buf := make([]byte, 512)
	require.NoError(t, DecodeChunk(codec, chunk, buf[:256]))
	assert.Equal(t, []int{128, 128}, caps)
}
