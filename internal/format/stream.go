package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

// maxStringLen bounds serialized string lengths to reject corrupt headers early.
const maxStringLen = 1 << 20

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Reader is a positioned little-endian cursor over an io.ReaderAt.
//
// A Reader is not safe for concurrent use; create one per goroutine over a
// shared source instead.
type Reader struct {
	src  io.ReaderAt
	size int64
	pos  int64
	buf  [8]byte
}

// NewReader creates a Reader over src, which holds size bytes.
func NewReader(src io.ReaderAt, size int64) *Reader {
	return &Reader{src: src, size: size}
}

// NewBytesReader creates a Reader over an in-memory buffer.
func NewBytesReader(data []byte) *Reader {
	return NewReader(bytes.NewReader(data), int64(len(data)))
}

// Pos returns the current offset.
func (r *Reader) Pos() int64 { return r.pos }

// Size returns the total number of bytes in the source.
func (r *Reader) Size() int64 { return r.size }

// SeekTo moves the cursor to an absolute offset.
func (r *Reader) SeekTo(off int64) error {
	if off < 0 || off > r.size {
		return fmt.Errorf("%w: seek to %d outside 0..%d", ErrFormat, off, r.size)
	}
	r.pos = off
	return nil
}

// ReadFull fills p from the current position.
func (r *Reader) ReadFull(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if r.pos+int64(len(p)) > r.size {
		return fmt.Errorf("%w: unexpected EOF reading %d bytes at %d", ErrFormat, len(p), r.pos)
	}
	n, err := r.src.ReadAt(p, r.pos)
	if n == len(p) {
		err = nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: unexpected EOF reading %d bytes at %d", ErrFormat, len(p), r.pos)
		}
		return err
	}
	r.pos += int64(n)
	return nil
}

// Bytes reads n bytes into a new slice.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || int64(n) > r.size-r.pos {
		return nil, fmt.Errorf("%w: unexpected EOF reading %d bytes at %d", ErrFormat, n, r.pos)
	}
	p := make([]byte, n)
	if err := r.ReadFull(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.ReadFull(r.buf[:1]); err != nil {
		return 0, err
	}
	return r.buf[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.ReadFull(r.buf[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(r.buf[:2]), nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.ReadFull(r.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.buf[:4]), nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err //nolint:gosec // bit reinterpretation
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.ReadFull(r.buf[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.buf[:8]), nil
}

// Ref reads a signed object index.
func (r *Reader) Ref() (ObjectRef, error) {
	v, err := r.Int32()
	if err != nil {
		return NullRef, err
	}
	return RefFromIndex(v), nil
}

// GUID reads a 16-byte GUID.
func (r *Reader) GUID() (uuid.UUID, error) {
	var g uuid.UUID
	if err := r.ReadFull(g[:]); err != nil {
		return uuid.Nil, err
	}
	return g, nil
}

// String reads a length-prefixed string.
//
// A positive length counts single-byte characters, a negative one counts
// UTF-16 code units. Both include a trailing NUL which is dropped.
func (r *Reader) String() (string, error) {
	n, err := r.Int32()
	if err != nil {
		return "", err
	}
	switch {
	case n == 0:
		return "", nil
	case n > 0:
		if n > maxStringLen {
			return "", fmt.Errorf("%w: string length %d at %d", ErrFormat, n, r.pos-4)
		}
		b, err := r.Bytes(int(n))
		if err != nil {
			return "", err
		}
		return string(bytes.TrimRight(b, "\x00")), nil
	default:
		if n == math.MinInt32 || -n > maxStringLen {
			return "", fmt.Errorf("%w: string length %d at %d", ErrFormat, n, r.pos-4)
		}
		b, err := r.Bytes(int(-n) * 2)
		if err != nil {
			return "", err
		}
		out, err := utf16Decoder.NewDecoder().Bytes(b)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrFormat, err)
		}
		return string(bytes.TrimRight(out, "\x00")), nil
	}
}

// Count reads a table element count and rejects values above limit.
func (r *Reader) Count(limit uint32) (int, error) {
	n, err := r.Uint32()
	if err != nil {
		return 0, err
	}
	if n > limit {
		return 0, fmt.Errorf("%w: count %d at %d exceeds %d", ErrFormat, n, r.pos-4, limit)
	}
	return int(n), nil
}

// Writer builds little-endian encoded data in memory.
type Writer struct {
	buf bytes.Buffer
	tmp [8]byte
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// Bytes returns the written data. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) PutBytes(p []byte) { w.buf.Write(p) }

func (w *Writer) PutUint8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) PutUint16(v uint16) {
	binary.LittleEndian.PutUint16(w.tmp[:2], v)
	w.buf.Write(w.tmp[:2])
}

func (w *Writer) PutUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.tmp[:4], v)
	w.buf.Write(w.tmp[:4])
}

func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) } //nolint:gosec // bit reinterpretation

func (w *Writer) PutUint64(v uint64) {
	binary.LittleEndian.PutUint64(w.tmp[:8], v)
	w.buf.Write(w.tmp[:8])
}

func (w *Writer) PutRef(r ObjectRef) { w.PutInt32(r.PackageIndex()) }

func (w *Writer) PutGUID(g uuid.UUID) { w.buf.Write(g[:]) }

// PutString writes s as a NUL-terminated length-prefixed string, using the
// UTF-16 form only when s contains non-ASCII characters.
func (w *Writer) PutString(s string) {
	if s == "" {
		w.PutInt32(0)
		return
	}
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		w.PutInt32(int32(len(s) + 1)) //nolint:gosec // bounded by caller
		w.buf.WriteString(s)
		w.buf.WriteByte(0)
		return
	}
	enc, err := utf16Decoder.NewEncoder().Bytes([]byte(s + "\x00"))
	if err != nil {
		w.PutInt32(0)
		return
	}
	w.PutInt32(-int32(len(enc) / 2)) //nolint:gosec // bounded by caller
	w.buf.Write(enc)
}

// Pad appends zero bytes until the writer holds n bytes.
func (w *Writer) Pad(n int) {
	for w.buf.Len() < n {
		w.buf.WriteByte(0)
	}
}
