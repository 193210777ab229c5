// Package compress decodes the block-compressed chunks of a package file.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	lzo "github.com/rasky/go-lzo"

	"github.com/meigma/upkg/internal/format"
)

// Codec decompresses one block. dst is sized to the exact decompressed length.
type Codec interface {
	Decompress(dst, src []byte) error
}

// CodecFunc adapts a function to Codec.
type CodecFunc func(dst, src []byte) error

// Decompress implements Codec.
func (f CodecFunc) Decompress(dst, src []byte) error { return f(dst, src) }

// Decoder selects codecs by summary compression flag.
type Decoder struct {
	codecs map[uint32]Codec
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithCodec registers or replaces the codec for a compression flag.
func WithCodec(flag uint32, c Codec) Option {
	return func(d *Decoder) {
		d.codecs[flag] = c
	}
}

// WithZstdPool decodes zstd blocks using the given decoder pool.
func WithZstdPool(p *ZstdPool) Option {
	return func(d *Decoder) {
		d.codecs[format.CompressZstd] = zstdCodec{pool: p}
	}
}

// NewDecoder creates a Decoder with zlib, LZO and zstd support.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		codecs: map[uint32]Codec{
			format.CompressZlib: CodecFunc(decompressZlib),
			format.CompressLZO:  CodecFunc(decompressLZO),
			format.CompressZstd: zstdCodec{pool: NewZstdPool(0, false)},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Codec returns the codec for the given summary compression flags.
func (d *Decoder) Codec(flags uint32) (Codec, error) {
	c, ok := d.codecs[flags]
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: unsupported compression flags 0x%X", format.ErrDecompression, flags)
	}
	return c, nil
}

func decompressZlib(dst, src []byte) error {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("%w: zlib: %w", format.ErrDecompression, err)
	}
	defer zr.Close()
	if _, err := io.ReadFull(zr, dst); err != nil {
		return fmt.Errorf("%w: zlib: %w", format.ErrDecompression, err)
	}
	var extra [1]byte
	if n, _ := zr.Read(extra[:]); n > 0 { //nolint:errcheck // only the byte count matters
		return fmt.Errorf("%w: zlib: block larger than %d bytes", format.ErrDecompression, len(dst))
	}
	return nil
}

func decompressLZO(dst, src []byte) error {
	out, err := lzo.Decompress1X(bytes.NewReader(src), len(src), len(dst))
	if err != nil {
		return fmt.Errorf("%w: lzo: %w", format.ErrDecompression, err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("%w: lzo: got %d bytes, want %d", format.ErrDecompression, len(out), len(dst))
	}
	copy(dst, out)
	return nil
}

type zstdCodec struct {
	pool *ZstdPool
}

func (c zstdCodec) Decompress(dst, src []byte) error {
	if len(dst) == 0 {
		return nil
	}
	dec, release, err := c.pool.Get()
	if err != nil {
		return fmt.Errorf("%w: zstd: %w", format.ErrDecompression, err)
	}
	defer release()
	// Capacity is capped so an oversized block cannot spill into its neighbours.
	out, err := dec.DecodeAll(src, dst[:0:len(dst)])
	if err != nil {
		return fmt.Errorf("%w: zstd: %w", format.ErrDecompression, err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("%w: zstd: got %d bytes, want %d", format.ErrDecompression, len(out), len(dst))
	}
	if len(out) > 0 && &out[0] != &dst[0] {
		copy(dst, out)
	}
	return nil
}
