package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdPool manages reusable zstd decoders to reduce allocation overhead.
type ZstdPool struct {
	pool             *sync.Pool
	maxDecoderMemory uint64
	lowmem           bool
}

// NewZstdPool creates a new pool for zstd decoders.
// If maxMemory is 0, no memory limit is applied to decoders.
func NewZstdPool(maxMemory uint64, lowmem bool) *ZstdPool {
	p := &ZstdPool{
		maxDecoderMemory: maxMemory,
		lowmem:           lowmem,
	}
	p.pool = &sync.Pool{
		New: func() any {
			dec, err := p.newDecoder()
			if err != nil {
				return nil
			}
			return dec
		},
	}
	return p
}

// Get returns a decoder for DecodeAll use.
// The caller must call the returned release function when done.
// If an error is returned, no release function needs to be called.
func (p *ZstdPool) Get() (*zstd.Decoder, func(), error) {
	if p == nil || p.pool == nil {
		dec, err := p.newDecoder()
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}

	dec, ok := p.pool.Get().(*zstd.Decoder)
	if !ok || dec == nil {
		// Pool's New function failed, try directly
		dec, err := p.newDecoder()
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	}
	return dec, func() { p.pool.Put(dec) }, nil
}

// newDecoder creates a zstd decoder with the configured memory limit.
// Block decoding uses DecodeAll only, so each decoder runs single-threaded
// and concurrency comes from the task group.
func (p *ZstdPool) newDecoder() (*zstd.Decoder, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if p != nil {
		opts = append(opts, zstd.WithDecoderLowmem(p.lowmem))
		if p.maxDecoderMemory != 0 {
			opts = append(opts, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
		}
	}
	return zstd.NewReader(nil, opts...)
}
