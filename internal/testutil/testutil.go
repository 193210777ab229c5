// Package testutil builds package files, composite bundles and mapper
// sources for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meigma/upkg/internal/compress"
	"github.com/meigma/upkg/internal/format"
	"github.com/meigma/upkg/mapper"
)

// Import describes one import record.
type Import struct {
	ClassPackage string
	ClassName    string
	Name         string
	Outer        format.ObjectRef
}

// Export describes one export record and its payload.
type Export struct {
	Class     format.ObjectRef
	Super     format.ObjectRef
	Outer     format.ObjectRef
	Archetype format.ObjectRef
	Name      string
	Flags     uint64
	Data      []byte
}

// Package describes a package file. Names are collected from the import
// and export records in order of first use.
type Package struct {
	FileVersion     uint16
	LicenseeVersion uint16
	GUID            uuid.UUID
	Imports         []Import
	Exports         []Export

	// Depends holds per-export dependency lists. A nil slice omits the
	// depends table.
	Depends [][]format.ObjectRef

	// Compression selects the chunk codec. Zero writes an uncompressed
	// package.
	Compression uint32

	// ChunkSize is the number of decompressed bytes per chunk. Zero puts
	// everything after the summary into one chunk.
	ChunkSize int
}

type nameTable struct {
	entries []format.NameEntry
	index   map[string]int32
}

func (t *nameTable) add(s string) format.Name {
	if t.index == nil {
		t.index = make(map[string]int32)
	}
	if i, ok := t.index[s]; ok {
		return format.Name{Index: i}
	}
	i := int32(len(t.entries)) //nolint:gosec // test tables are small
	t.entries = append(t.entries, format.NameEntry{Text: s})
	t.index[s] = i
	return format.Name{Index: i}
}

// Bytes encodes the package.
func (p *Package) Bytes(tb testing.TB) []byte {
	tb.Helper()

	var names nameTable
	imports := make([]format.ImportRecord, len(p.Imports))
	for i, imp := range p.Imports {
		imports[i] = format.ImportRecord{
			ClassPackage: names.add(imp.ClassPackage),
			ClassName:    names.add(imp.ClassName),
			Outer:        imp.Outer,
			ObjectName:   names.add(imp.Name),
		}
	}
	exports := make([]format.ExportRecord, len(p.Exports))
	for i, exp := range p.Exports {
		exports[i] = format.ExportRecord{
			Class:       exp.Class,
			Super:       exp.Super,
			Outer:       exp.Outer,
			ObjectName:  names.add(exp.Name),
			Archetype:   exp.Archetype,
			ObjectFlags: exp.Flags,
			SerialSize:  uint32(len(exp.Data)), //nolint:gosec // test payloads are small
		}
	}

	sum := &format.Summary{
		FileVersion:     p.FileVersion,
		LicenseeVersion: p.LicenseeVersion,
		FolderName:      "None",
		PackageFlags:    format.PackageCooked,
		NamesCount:      uint32(len(names.entries)), //nolint:gosec // test tables are small
		ImportsCount:    uint32(len(imports)),       //nolint:gosec // test tables are small
		ExportsCount:    uint32(len(exports)),       //nolint:gosec // test tables are small
		GUID:            p.GUID,
		Generations: []format.Generation{{
			Exports: uint32(len(exports)),       //nolint:gosec // test tables are small
			Names:   uint32(len(names.entries)), //nolint:gosec // test tables are small
		}},
	}

	var probe format.Writer
	format.WriteSummary(&probe, sum)
	off := uint32(probe.Len()) //nolint:gosec // summary is small
	start := probe.Len()

	var nt, it, et, dt format.Writer
	for _, e := range names.entries {
		format.WriteNameEntry(&nt, e)
	}
	for _, rec := range imports {
		format.WriteImport(&it, rec)
	}
	for _, rec := range exports {
		format.WriteExport(&et, rec)
	}
	if p.Depends != nil {
		for i := range exports {
			var refs []format.ObjectRef
			if i < len(p.Depends) {
				refs = p.Depends[i]
			}
			format.WriteDepends(&dt, refs)
		}
	}

	sum.NamesOffset = off
	off += uint32(nt.Len()) //nolint:gosec // test tables are small
	sum.ImportsOffset = off
	off += uint32(it.Len()) //nolint:gosec // test tables are small
	sum.ExportsOffset = off
	off += uint32(et.Len()) //nolint:gosec // test tables are small
	if p.Depends != nil {
		sum.DependsOffset = off
		off += uint32(dt.Len()) //nolint:gosec // test tables are small
	}
	sum.HeaderSize = off
	for i := range exports {
		exports[i].SerialOffset = off
		off += exports[i].SerialSize
	}

	var out format.Writer
	format.WriteSummary(&out, sum)
	require.Equal(tb, start, out.Len(), "summary size changed")
	out.PutBytes(nt.Bytes())
	out.PutBytes(it.Bytes())
	for _, rec := range exports {
		format.WriteExport(&out, rec)
	}
	out.PutBytes(dt.Bytes())
	for _, exp := range p.Exports {
		out.PutBytes(exp.Data)
	}
	data := out.Bytes()
	if p.Compression == format.CompressNone {
		return data
	}
	return p.compress(tb, sum, data, start)
}

// compress splits data after the summary into chunks and prepends a summary
// that declares them.
func (p *Package) compress(tb testing.TB, sum *format.Summary, data []byte, start int) []byte {
	tb.Helper()
	body := data[start:]
	size := p.ChunkSize
	if size <= 0 {
		size = len(body)
	}

	var chunks []format.CompressedChunk
	var payloads [][]byte
	for off := 0; off < len(body); off += size {
		end := min(off+size, len(body))
		enc, err := compress.EncodeChunk(p.Compression, body[off:end], 0)
		require.NoError(tb, err)
		chunks = append(chunks, format.CompressedChunk{
			DecompressedOffset: uint32(start + off), //nolint:gosec // test packages are small
			DecompressedSize:   uint32(end - off),   //nolint:gosec // test packages are small
			CompressedSize:     uint32(len(enc)),    //nolint:gosec // test packages are small
		})
		payloads = append(payloads, enc)
	}

	csum := *sum
	csum.CompressionFlags = p.Compression
	csum.CompressedChunks = chunks
	var probe format.Writer
	format.WriteSummary(&probe, &csum)
	pos := uint32(probe.Len()) //nolint:gosec // summary is small
	for i := range chunks {
		chunks[i].CompressedOffset = pos
		pos += chunks[i].CompressedSize
	}

	var out format.Writer
	format.WriteSummary(&out, &csum)
	for _, pl := range payloads {
		out.PutBytes(pl)
	}
	return out.Bytes()
}

// Write encodes the package to path, creating parent directories.
func (p *Package) Write(tb testing.TB, path string) {
	tb.Helper()
	WriteFile(tb, path, p.Bytes(tb))
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(tb testing.TB, path string, data []byte) {
	tb.Helper()
	require.NoError(tb, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(tb, os.WriteFile(path, data, 0o600))
}

// Bundle writes a composite bundle of parts to path, each part preceded by
// pad filler bytes, and returns the offset of every part.
func Bundle(tb testing.TB, path string, pad int, parts ...[]byte) []uint64 {
	tb.Helper()
	var w format.Writer
	offsets := make([]uint64, len(parts))
	for i, part := range parts {
		for range pad {
			w.PutUint8(0xEE)
		}
		offsets[i] = uint64(w.Len()) //nolint:gosec // non-negative
		w.PutBytes(part)
	}
	WriteFile(tb, path, w.Bytes())
	return offsets
}

// Mappers holds the plaintext tables written by WriteMappers.
type Mappers struct {
	Packages   map[string]string
	Composites map[string]mapper.CompositeEntry
	Redirects  map[string]string
}

// WriteMappers encrypts the three mapper tables into root's source
// directory.
func WriteMappers(tb testing.TB, root string, m Mappers) {
	tb.Helper()
	write := func(name, text string) {
		path := filepath.Join(root, "CookedPC", name+".dat")
		WriteFile(tb, path, mapper.Encrypt([]byte(text)))
	}
	write(mapper.PackageMapper, mapper.FormatPairs(m.Packages))
	write(mapper.CompositeMapper, mapper.FormatComposite(m.Composites))
	write(mapper.RedirectorMapper, mapper.FormatPairs(m.Redirects))
}
