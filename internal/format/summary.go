package format

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	// PackageTag is the magic number that opens every package file.
	PackageTag uint32 = 0x9E2A83C1

	// swappedTag is PackageTag as seen from a big-endian writer.
	swappedTag uint32 = 0xC1832A9E

	maxTableCount = 1 << 24
	maxSmallCount = 1 << 16
)

// Compression flags declared by a summary.
const (
	CompressNone uint32 = 0
	CompressZlib uint32 = 0x01
	CompressLZO  uint32 = 0x02
	CompressLZX  uint32 = 0x04
	CompressZstd uint32 = 0x10
)

// Package flags.
const (
	PackageAllowDownload   uint32 = 0x00000001
	PackageServerSideOnly  uint32 = 0x00000004
	PackageCooked          uint32 = 0x00000008
	PackageStoreCompressed uint32 = 0x02000000
)

// Object flags consulted by the loader.
const (
	ObjectStandalone         uint64 = 0x0000000000080000
	ObjectPublic             uint64 = 0x0000000000000004
	ObjectArchetype          uint64 = 0x0000000400000000
	ObjectClassDefaultObject uint64 = 0x0000020000000000
)

// Generation records the table sizes of a previous save of the package.
type Generation struct {
	Exports    uint32
	Names      uint32
	NetObjects uint32
}

// CompressedChunk describes one independently compressed range of the file.
type CompressedChunk struct {
	DecompressedOffset uint32
	DecompressedSize   uint32
	CompressedOffset   uint32
	CompressedSize     uint32
}

// Summary is the fixed header at the start of every package.
type Summary struct {
	FileVersion        uint16
	LicenseeVersion    uint16
	HeaderSize         uint32
	FolderName         string
	PackageFlags       uint32
	NamesCount         uint32
	NamesOffset        uint32
	ExportsCount       uint32
	ExportsOffset      uint32
	ImportsCount       uint32
	ImportsOffset      uint32
	DependsOffset      uint32
	GUID               uuid.UUID
	Generations        []Generation
	EngineVersion      uint32
	ContentVersion     uint32
	CompressionFlags   uint32
	CompressedChunks   []CompressedChunk
	PackageSource      uint32
	AdditionalPackages []string
}

// Compressed reports whether the payload is stored as compressed chunks.
func (s *Summary) Compressed() bool {
	return len(s.CompressedChunks) > 0
}

// ReadSummary decodes a summary at the reader's current position.
//
//nolint:gocyclo // flat field-by-field decoding
func ReadSummary(r *Reader) (*Summary, error) {
	tag, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	switch tag {
	case PackageTag:
	case swappedTag:
		return nil, fmt.Errorf("%w: big-endian packages are not supported", ErrFormat)
	default:
		return nil, fmt.Errorf("%w: bad package tag 0x%08X", ErrFormat, tag)
	}

	s := &Summary{}
	if s.FileVersion, err = r.Uint16(); err != nil {
		return nil, err
	}
	if s.LicenseeVersion, err = r.Uint16(); err != nil {
		return nil, err
	}
	if s.HeaderSize, err = r.Uint32(); err != nil {
		return nil, err
	}
	if s.FolderName, err = r.String(); err != nil {
		return nil, err
	}
	if s.PackageFlags, err = r.Uint32(); err != nil {
		return nil, err
	}
	for _, field := range []*uint32{
		&s.NamesCount, &s.NamesOffset,
		&s.ExportsCount, &s.ExportsOffset,
		&s.ImportsCount, &s.ImportsOffset,
		&s.DependsOffset,
	} {
		if *field, err = r.Uint32(); err != nil {
			return nil, err
		}
	}
	if s.NamesCount > maxTableCount || s.ExportsCount > maxTableCount || s.ImportsCount > maxTableCount {
		return nil, fmt.Errorf("%w: table counts %d/%d/%d out of range", ErrFormat, s.NamesCount, s.ImportsCount, s.ExportsCount)
	}
	if s.GUID, err = r.GUID(); err != nil {
		return nil, err
	}

	n, err := r.Count(maxSmallCount)
	if err != nil {
		return nil, err
	}
	s.Generations = make([]Generation, n)
	for i := range s.Generations {
		g := &s.Generations[i]
		if g.Exports, err = r.Uint32(); err != nil {
			return nil, err
		}
		if g.Names, err = r.Uint32(); err != nil {
			return nil, err
		}
		if g.NetObjects, err = r.Uint32(); err != nil {
			return nil, err
		}
	}

	if s.EngineVersion, err = r.Uint32(); err != nil {
		return nil, err
	}
	if s.ContentVersion, err = r.Uint32(); err != nil {
		return nil, err
	}
	if s.CompressionFlags, err = r.Uint32(); err != nil {
		return nil, err
	}

	if n, err = r.Count(maxSmallCount); err != nil {
		return nil, err
	}
	if n > 0 {
		s.CompressedChunks = make([]CompressedChunk, n)
	}
	for i := range s.CompressedChunks {
		c := &s.CompressedChunks[i]
		if c.DecompressedOffset, err = r.Uint32(); err != nil {
			return nil, err
		}
		if c.DecompressedSize, err = r.Uint32(); err != nil {
			return nil, err
		}
		if c.CompressedOffset, err = r.Uint32(); err != nil {
			return nil, err
		}
		if c.CompressedSize, err = r.Uint32(); err != nil {
			return nil, err
		}
	}

	if s.PackageSource, err = r.Uint32(); err != nil {
		return nil, err
	}
	if n, err = r.Count(maxSmallCount); err != nil {
		return nil, err
	}
	for range n {
		name, err := r.String()
		if err != nil {
			return nil, err
		}
		s.AdditionalPackages = append(s.AdditionalPackages, name)
	}
	return s, nil
}

// WriteSummary encodes s.
func WriteSummary(w *Writer, s *Summary) {
	w.PutUint32(PackageTag)
	w.PutUint16(s.FileVersion)
	w.PutUint16(s.LicenseeVersion)
	w.PutUint32(s.HeaderSize)
	w.PutString(s.FolderName)
	w.PutUint32(s.PackageFlags)
	w.PutUint32(s.NamesCount)
	w.PutUint32(s.NamesOffset)
	w.PutUint32(s.ExportsCount)
	w.PutUint32(s.ExportsOffset)
	w.PutUint32(s.ImportsCount)
	w.PutUint32(s.ImportsOffset)
	w.PutUint32(s.DependsOffset)
	w.PutGUID(s.GUID)
	w.PutUint32(uint32(len(s.Generations))) //nolint:gosec // bounded on read
	for _, g := range s.Generations {
		w.PutUint32(g.Exports)
		w.PutUint32(g.Names)
		w.PutUint32(g.NetObjects)
	}
	w.PutUint32(s.EngineVersion)
	w.PutUint32(s.ContentVersion)
	w.PutUint32(s.CompressionFlags)
	w.PutUint32(uint32(len(s.CompressedChunks))) //nolint:gosec // bounded on read
	for _, c := range s.CompressedChunks {
		w.PutUint32(c.DecompressedOffset)
		w.PutUint32(c.DecompressedSize)
		w.PutUint32(c.CompressedOffset)
		w.PutUint32(c.CompressedSize)
	}
	w.PutUint32(s.PackageSource)
	w.PutUint32(uint32(len(s.AdditionalPackages))) //nolint:gosec // bounded on read
	for _, name := range s.AdditionalPackages {
		w.PutString(name)
	}
}
