package upkg

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/upkg/internal/compress"
	"github.com/meigma/upkg/internal/format"
	"github.com/meigma/upkg/internal/sizing"
	"github.com/meigma/upkg/mapper"
)

// maxDecompressedSize bounds the buffer allocated for one package.
const maxDecompressedSize = 4 << 30

type openResult struct {
	pkg     *Package
	created bool
}

// openShared returns the registered package for path, opening and
// registering it if needed. Concurrent calls for one path share one open.
// The result is not retained.
func (r *Registry) openShared(ctx context.Context, path string) (*Package, bool, error) {
	path = cleanPath(path)
	v, err, _ := r.flights.Do("path:"+path, func() (any, error) {
		if p := r.findPath(path); p != nil {
			return openResult{pkg: p}, nil
		}
		p, err := r.openFile(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := r.register(p); err != nil {
			r.teardown(p)
			return nil, err
		}
		return openResult{pkg: p, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(openResult)
	return res.pkg, res.created, nil
}

// cleanPath returns the absolute form of path so that one file is keyed
// the same however it was spelled.
func cleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func (r *Registry) findPath(path string) *Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.loaded {
		if p.sourcePath == path {
			return p
		}
	}
	return nil
}

// openFile reads the summary of path and decompresses the package if it
// declares compressed chunks. The package is not registered.
func (r *Registry) openFile(ctx context.Context, path string) (*Package, error) {
	r.log().Info("opening package", "path", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	sum, err := format.ReadSummary(format.NewReader(f, info.Size()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !sum.Compressed() {
		return newPackage(r, path, path, sum), nil
	}

	dataPath, sum, err := r.decompress(ctx, f, info.Size(), sum, fileName(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return newPackage(r, path, dataPath, sum), nil
}

// decompress expands every compressed chunk into one buffer, writes it after
// a summary without chunks to a temporary file and returns that file's path
// and summary.
func (r *Registry) decompress(ctx context.Context, src io.ReaderAt, size int64, sum *format.Summary, name string) (string, *format.Summary, error) {
	chunks := slices.Clone(sum.CompressedChunks)
	slices.SortFunc(chunks, func(a, b format.CompressedChunk) int {
		return cmp.Compare(a.DecompressedOffset, b.DecompressedOffset)
	})

	start := uint64(chunks[0].DecompressedOffset)
	var end, compressed uint64
	for i, c := range chunks {
		if uint64(c.DecompressedOffset) < end {
			return "", nil, fmt.Errorf("%w: chunk %d overlaps its predecessor", ErrFormat, i)
		}
		end = uint64(c.DecompressedOffset) + uint64(c.DecompressedSize)
		if err := sizing.CheckRange(uint64(c.CompressedOffset), uint64(c.CompressedSize), size, ErrFormat); err != nil {
			return "", nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		// Payloads are read into memory, so together they may not exceed the file.
		compressed += uint64(c.CompressedSize)
		if compressed > uint64(size) { //nolint:gosec // size is a file length
			return "", nil, fmt.Errorf("%w: chunk payloads total %d bytes in a %d byte file", ErrFormat, compressed, size)
		}
	}
	if end-start > maxDecompressedSize {
		return "", nil, fmt.Errorf("%w: %d decompressed bytes", ErrSizeOverflow, end-start)
	}
	total, err := sizing.ToInt(end-start, ErrSizeOverflow)
	if err != nil {
		return "", nil, err
	}

	codec, err := r.decoder.Codec(sum.CompressionFlags)
	if err != nil {
		return "", nil, err
	}

	payloads := make([][]byte, len(chunks))
	for i, c := range chunks {
		payloads[i] = make([]byte, c.CompressedSize)
		if _, err := src.ReadAt(payloads[i], int64(c.CompressedOffset)); err != nil {
			return "", nil, fmt.Errorf("read chunk %d: %w", i, err)
		}
	}

	buf := make([]byte, total)
	err = r.group.Run(ctx, len(chunks), func(_ context.Context, i int) error {
		c := chunks[i]
		off := uint64(c.DecompressedOffset) - start
		end := off + uint64(c.DecompressedSize)
		dst := buf[off:end:end]
		if err := compress.DecodeChunk(codec, payloads[i], dst); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	r.metrics.decompressedBytes.Add(float64(total))

	clean := *sum
	clean.CompressedChunks = nil
	clean.CompressionFlags = format.CompressNone
	var w format.Writer
	format.WriteSummary(&w, &clean)
	if uint64(w.Len()) > start {
		return "", nil, fmt.Errorf("%w: summary of %d bytes overlaps data at %d", ErrFormat, w.Len(), start)
	}
	w.Pad(int(start))

	tmpPath, err := r.writeTemp(name, w.Bytes(), buf)
	if err != nil {
		return "", nil, err
	}
	r.log().Info("decompressed package", "package", name, "path", tmpPath, "bytes", total)

	f, err := os.Open(tmpPath)
	if err != nil {
		removeTemp(r.log(), tmpPath)
		return "", nil, err
	}
	defer f.Close()
	out, err := format.ReadSummary(format.NewReader(f, int64(w.Len())+int64(total)))
	if err != nil {
		removeTemp(r.log(), tmpPath)
		return "", nil, err
	}
	return tmpPath, out, nil
}

// writeTemp writes parts to a new file in the temp directory.
func (r *Registry) writeTemp(name string, parts ...[]byte) (string, error) {
	f, err := os.CreateTemp(r.tempDir, "upkg-*-"+filepath.Base(name))
	if err != nil {
		return "", err
	}
	path := f.Name()
	for _, p := range parts {
		if _, err := f.Write(p); err != nil {
			f.Close()
			removeTemp(r.log(), path)
			return "", err
		}
	}
	if err := f.Close(); err != nil {
		removeTemp(r.log(), path)
		return "", err
	}
	return path, nil
}

func (r *Registry) composite(name string) (mapper.CompositeEntry, bool) {
	s := r.Mappers()
	if s == nil {
		return mapper.CompositeEntry{}, false
	}
	return s.Composite(name)
}

// openComposite carves a composite package out of its bundle into a
// temporary file and registers it under name.
func (r *Registry) openComposite(ctx context.Context, name string, entry mapper.CompositeEntry) (*Package, error) {
	idx, err := r.DirIndex()
	if err != nil {
		return nil, err
	}
	var bundle string
	for rel := range idx.Matches(entry.FileName) {
		bundle = idx.Abs(rel)
		break
	}
	if bundle == "" {
		return nil, fmt.Errorf("%w: bundle %s", ErrNotFound, entry.FileName)
	}

	r.log().Info("reading composite package", "package", name, "bundle", bundle, "offset", entry.Offset, "size", entry.Size)
	tmpPath, dgst, err := r.carve(bundle, entry.Offset, entry.Size, name)
	if err != nil {
		return nil, fmt.Errorf("composite %s: %w", name, err)
	}

	p, err := r.openFile(ctx, tmpPath)
	if err != nil {
		removeTemp(r.log(), tmpPath)
		return nil, fmt.Errorf("composite %s: %w", name, err)
	}
	p.name = name
	p.compositeSource = bundle
	p.compositeData = tmpPath
	p.compositeDigest = dgst
	if err := r.register(p); err != nil {
		r.teardown(p)
		return nil, err
	}
	return p, nil
}

func (r *Registry) carve(bundle string, offset, size uint64, name string) (string, digest.Digest, error) {
	f, err := os.Open(bundle)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", "", err
	}
	if err := sizing.CheckRange(offset, size, info.Size(), ErrFormat); err != nil {
		return "", "", err
	}

	tmp, err := os.CreateTemp(r.tempDir, "upkg-*-"+filepath.Base(name))
	if err != nil {
		return "", "", err
	}
	tmpPath := tmp.Name()
	digester := digest.Canonical.Digester()
	section := io.NewSectionReader(f, int64(offset), int64(size)) //nolint:gosec // bounded by CheckRange
	if _, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), section); err != nil {
		tmp.Close()
		removeTemp(r.log(), tmpPath)
		return "", "", err
	}
	if err := tmp.Close(); err != nil {
		removeTemp(r.log(), tmpPath)
		return "", "", err
	}
	return tmpPath, digester.Digest(), nil
}

// errIsNotFound reports whether err means the package does not exist.
func errIsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
