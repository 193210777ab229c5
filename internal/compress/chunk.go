package compress

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/upkg/internal/format"
)

// DefaultBlockSize is the uncompressed size of every block but the last.
const DefaultBlockSize = 128 << 10

const maxBlocks = 1 << 16

// A compressed chunk is a small header followed by per-block sizes and the
// block payloads:
//
//	u32 tag, u32 blockSize, u32 compressedSize, u32 uncompressedSize
//	N x (u32 compressed, u32 uncompressed)
//	N x payload
type block struct {
	compressed   uint32
	uncompressed uint32
}

// DecodeChunk decompresses one chunk into dst, which must be sized to the
// chunk's declared decompressed size.
func DecodeChunk(c Codec, src, dst []byte) error {
	r := format.NewBytesReader(src)
	tag, err := r.Uint32()
	if err != nil {
		return fmt.Errorf("%w: chunk header: %w", format.ErrDecompression, err)
	}
	if tag != format.PackageTag {
		return fmt.Errorf("%w: bad chunk tag 0x%08X", format.ErrDecompression, tag)
	}
	var blockSize, compressedSize, uncompressedSize uint32
	for _, v := range []*uint32{&blockSize, &compressedSize, &uncompressedSize} {
		if *v, err = r.Uint32(); err != nil {
			return fmt.Errorf("%w: chunk header: %w", format.ErrDecompression, err)
		}
	}
	if int(uncompressedSize) != len(dst) {
		return fmt.Errorf("%w: chunk holds %d bytes, want %d", format.ErrDecompression, uncompressedSize, len(dst))
	}
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	n := int((uint64(uncompressedSize) + uint64(blockSize) - 1) / uint64(blockSize))
	if n > maxBlocks {
		return fmt.Errorf("%w: %d blocks in chunk", format.ErrDecompression, n)
	}

	blocks := make([]block, n)
	for i := range blocks {
		if blocks[i].compressed, err = r.Uint32(); err != nil {
			return fmt.Errorf("%w: block table: %w", format.ErrDecompression, err)
		}
		if blocks[i].uncompressed, err = r.Uint32(); err != nil {
			return fmt.Errorf("%w: block table: %w", format.ErrDecompression, err)
		}
	}

	out := 0
	for i, b := range blocks {
		if out+int(b.uncompressed) > len(dst) {
			return fmt.Errorf("%w: block %d overruns chunk", format.ErrDecompression, i)
		}
		payload, err := r.Bytes(int(b.compressed))
		if err != nil {
			return fmt.Errorf("%w: block %d: %w", format.ErrDecompression, i, err)
		}
		end := out + int(b.uncompressed)
		if err := c.Decompress(dst[out:end:end], payload); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		out += int(b.uncompressed)
	}
	if out != len(dst) {
		return fmt.Errorf("%w: chunk decoded to %d of %d bytes", format.ErrDecompression, out, len(dst))
	}
	return nil
}

// EncodeChunk compresses data into the chunk layout read by DecodeChunk.
// Only zlib and zstd can be written.
func EncodeChunk(flags uint32, data []byte, blockSize int) ([]byte, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	var payloads [][]byte
	var blocks []block
	for off := 0; off < len(data); off += blockSize {
		end := min(off+blockSize, len(data))
		p, err := compressBlock(flags, data[off:end])
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
		blocks = append(blocks, block{compressed: uint32(len(p)), uncompressed: uint32(end - off)}) //nolint:gosec // block sizes are small
	}

	var total uint32
	for _, b := range blocks {
		total += b.compressed
	}
	var w format.Writer
	w.PutUint32(format.PackageTag)
	w.PutUint32(uint32(blockSize)) //nolint:gosec // block sizes are small
	w.PutUint32(total)
	w.PutUint32(uint32(len(data))) //nolint:gosec // chunk sizes fit the u32 format
	for _, b := range blocks {
		w.PutUint32(b.compressed)
		w.PutUint32(b.uncompressed)
	}
	for _, p := range payloads {
		w.PutBytes(p)
	}
	return w.Bytes(), nil
}

func compressBlock(flags uint32, data []byte) ([]byte, error) {
	switch flags {
	case format.CompressZlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case format.CompressZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("compress: cannot encode flags 0x%X", flags)
	}
}
