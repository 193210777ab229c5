package mapper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/meigma/upkg/internal/fb"
)

const cacheVersion = 1

// tables is the decoded content of one mapper. Pair tables fill pairs,
// the composite table fills composites.
type tables struct {
	pairs      map[string]string
	composites map[string]CompositeEntry
}

// readCache loads a cache file and returns its tables and source timestamp.
func readCache(path string) (*tables, uint64, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the configured root
	if err != nil {
		return nil, 0, err
	}
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("%w: cache %s is truncated", ErrCorrupt, filepath.Base(path))
	}
	stamp := binary.LittleEndian.Uint64(data[:8])
	t, err := decodeTables(data[8:])
	if err != nil {
		return nil, 0, fmt.Errorf("cache %s: %w", filepath.Base(path), err)
	}
	return t, stamp, nil
}

// writeCache atomically replaces the cache file with {stamp}{tables}.
func writeCache(path string, stamp uint64, t *tables) error {
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], stamp)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(prefix[:]); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(encodeTables(t)); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func encodeTables(t *tables) []byte {
	builder := flatbuffers.NewBuilder(1024)

	pairKeys := sortedKeys(t.pairs)
	pairOffsets := make([]flatbuffers.UOffsetT, len(pairKeys))
	for i := len(pairKeys) - 1; i >= 0; i-- {
		k := builder.CreateString(pairKeys[i])
		v := builder.CreateString(t.pairs[pairKeys[i]])
		fb.StringPairStart(builder)
		fb.StringPairAddKey(builder, k)
		fb.StringPairAddValue(builder, v)
		pairOffsets[i] = fb.StringPairEnd(builder)
	}

	compKeys := sortedKeys(t.composites)
	compOffsets := make([]flatbuffers.UOffsetT, len(compKeys))
	for i := len(compKeys) - 1; i >= 0; i-- {
		e := t.composites[compKeys[i]]
		pkg := builder.CreateString(e.Package)
		file := builder.CreateString(e.FileName)
		obj := builder.CreateString(e.ObjectPath)
		fb.CompositeEntryStart(builder)
		fb.CompositeEntryAddPackage(builder, pkg)
		fb.CompositeEntryAddFileName(builder, file)
		fb.CompositeEntryAddObjectPath(builder, obj)
		fb.CompositeEntryAddOffset(builder, e.Offset)
		fb.CompositeEntryAddSize(builder, e.Size)
		compOffsets[i] = fb.CompositeEntryEnd(builder)
	}

	fb.MapperCacheStartPairsVector(builder, len(pairOffsets))
	for i := len(pairOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(pairOffsets[i])
	}
	pairsVec := builder.EndVector(len(pairOffsets))

	fb.MapperCacheStartCompositesVector(builder, len(compOffsets))
	for i := len(compOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(compOffsets[i])
	}
	compVec := builder.EndVector(len(compOffsets))

	fb.MapperCacheStart(builder)
	fb.MapperCacheAddVersion(builder, cacheVersion)
	fb.MapperCacheAddPairs(builder, pairsVec)
	fb.MapperCacheAddComposites(builder, compVec)
	builder.Finish(fb.MapperCacheEnd(builder))
	return builder.FinishedBytes()
}

func decodeTables(data []byte) (t *tables, err error) {
	defer func() {
		if r := recover(); r != nil {
			t = nil
			err = fmt.Errorf("%w: failed to parse cache: %v", ErrCorrupt, r)
		}
	}()
	if len(data) == 0 {
		return nil, errors.New("mapper: empty cache data")
	}

	root := fb.GetRootAsMapperCache(data, 0)
	if v := root.Version(); v != cacheVersion {
		return nil, fmt.Errorf("%w: cache version %d", ErrCorrupt, v)
	}

	t = &tables{}
	if n := root.PairsLength(); n > 0 {
		t.pairs = make(map[string]string, n)
		var p fb.StringPair
		for i := range n {
			if root.Pairs(&p, i) {
				t.pairs[string(p.Key())] = string(p.Value())
			}
		}
	}
	if n := root.CompositesLength(); n > 0 {
		t.composites = make(map[string]CompositeEntry, n)
		var c fb.CompositeEntry
		for i := range n {
			if root.Composites(&c, i) {
				e := CompositeEntry{
					Package:    string(c.Package()),
					FileName:   string(c.FileName()),
					ObjectPath: string(c.ObjectPath()),
					Offset:     c.Offset(),
					Size:       c.Size(),
				}
				t.composites[e.Package] = e
			}
		}
	}
	return t, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func sortEntries(entries []CompositeEntry) {
	slices.SortFunc(entries, func(a, b CompositeEntry) int {
		return strings.Compare(a.Package, b.Package)
	})
}
