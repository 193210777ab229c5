package mapper

import (
	"bytes"
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/upkg/internal/format"
)

const (
	packageText   = "Core,CookedPC/Core.u|Engine,CookedPC/Engine.u|Core,CookedPC/Dup.u|"
	redirectText  = "Old.Mesh,New.Mesh|"
	compositeText = "!Bundle_01?Maps.Town,Town_SF,0,100,|Maps.Town_Art,Town_Art_SF,100,250,|!Bundle_02?UI.Hud,Hud_SF,16,32,|!"
)

func writeSource(t *testing.T, root, name, text string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(root, sourceDir, name+sourceExt)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, Encrypt([]byte(text)), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestCipherRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for _, size := range []int{0, 1, 2, 3, 15, 16, 17, 31, 32, 33, 100, 4097} {
		plain := make([]byte, size)
		for i := range plain {
			plain[i] = byte(rng.UintN(256))
		}
		enc := Encrypt(plain)
		require.Len(t, enc, size)
		assert.Equal(t, plain, Decrypt(enc), "size %d", size)
		assert.Equal(t, plain, Encrypt(Decrypt(plain)), "size %d", size)
	}
}

func TestDecryptDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	in := []byte("Core,CookedPC/Core.u|Engine,CookedPC/Engine.u|")
	orig := bytes.Clone(in)
	_ = Decrypt(in)
	assert.Equal(t, orig, in)
}

func TestDecryptTextStripsBOM(t *testing.T) {
	t.Parallel()

	enc := Encrypt(append([]byte{0xEF, 0xBB, 0xBF}, "a,b|"...))
	text, err := DecryptText(enc)
	require.NoError(t, err)
	assert.Equal(t, "a,b|", text)
}

func TestParsePairs(t *testing.T) {
	t.Parallel()

	got, err := ParsePairs(packageText+"trailing", PackageMapper)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Core":   "CookedPC/Core.u",
		"Engine": "CookedPC/Engine.u",
	}, got)

	_, err = ParsePairs("Core|", PackageMapper)
	require.ErrorIs(t, err, ErrCorrupt)
	require.ErrorIs(t, err, format.ErrFormat)
}

func TestParseComposite(t *testing.T) {
	t.Parallel()

	got, err := ParseComposite(compositeText)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, CompositeEntry{
		Package:    "Town_Art_SF",
		FileName:   "Bundle_01",
		ObjectPath: "Maps.Town_Art",
		Offset:     100,
		Size:       250,
	}, got["Town_Art_SF"])
	assert.Equal(t, "Bundle_02", got["Hud_SF"].FileName)

	tests := []struct {
		name string
		text string
	}{
		{"missing question mark", "!Bundle_01Maps.Town,Town_SF,0,100,|!"},
		{"too few fields", "!Bundle_01?Maps.Town,Town_SF,0|!"},
		{"bad offset", "!Bundle_01?Maps.Town,Town_SF,x,100,|!"},
		{"bad size", "!Bundle_01?Maps.Town,Town_SF,0,-1,|!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseComposite(tt.text)
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	t.Parallel()

	pairs, err := ParsePairs(packageText, PackageMapper)
	require.NoError(t, err)
	again, err := ParsePairs(FormatPairs(pairs), PackageMapper)
	require.NoError(t, err)
	assert.Equal(t, pairs, again)

	entries, err := ParseComposite(compositeText)
	require.NoError(t, err)
	reparsed, err := ParseComposite(FormatComposite(entries))
	require.NoError(t, err)
	assert.Equal(t, entries, reparsed)
}

func TestStoreLoadsAndCaches(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mtime := time.Unix(1700000000, 0)
	writeSource(t, root, PackageMapper, packageText, mtime)
	writeSource(t, root, CompositeMapper, compositeText, mtime)
	writeSource(t, root, RedirectorMapper, redirectText, mtime)

	s := New(root)
	require.NoError(t, s.Load(context.Background()))

	path, ok := s.PackagePath("Core")
	require.True(t, ok)
	assert.Equal(t, "CookedPC/Core.u", path)
	alias, ok := s.Redirect("Old.Mesh")
	require.True(t, ok)
	assert.Equal(t, "New.Mesh", alias)
	entry, ok := s.Composite("Hud_SF")
	require.True(t, ok)
	assert.Equal(t, uint64(16), entry.Offset)
	assert.Equal(t, 2, s.LenPackages())
	assert.Equal(t, 3, s.LenComposites())
	assert.Equal(t, 1, s.LenRedirects())

	for _, name := range []string{PackageMapper, CompositeMapper, RedirectorMapper} {
		assert.FileExists(t, s.CachePath(name))
	}

	// With the sources gone the cache alone must reproduce the parsed tables.
	require.NoError(t, os.RemoveAll(filepath.Join(root, sourceDir)))
	cached := New(root)
	require.NoError(t, cached.Load(context.Background()))

	wantPairs, err := ParsePairs(packageText, PackageMapper)
	require.NoError(t, err)
	wantComposites, err := ParseComposite(compositeText)
	require.NoError(t, err)
	assert.Equal(t, wantPairs, cached.PackageMap())
	assert.Equal(t, wantComposites, cached.CompositeMap())
	assert.Equal(t, s.RedirectorMap(), cached.RedirectorMap())
}

func TestStoreUsesCacheWhenStampMatches(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mtime := time.Unix(1700000000, 0)
	writeSource(t, root, PackageMapper, packageText, mtime)

	s := New(root)
	require.NoError(t, s.LoadPackageMap(context.Background()))

	// Corrupt the source but keep its timestamp; the cache must still win.
	src := s.SourcePath(PackageMapper)
	require.NoError(t, os.WriteFile(src, []byte("garbage"), 0o600))
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	again := New(root)
	require.NoError(t, again.LoadPackageMap(context.Background()))
	assert.Equal(t, s.PackageMap(), again.PackageMap())
}

func TestStoreRebuildsStaleCache(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSource(t, root, RedirectorMapper, redirectText, time.Unix(1700000000, 0))
	require.NoError(t, New(root).LoadRedirectorMap(context.Background()))

	writeSource(t, root, RedirectorMapper, "Old.Tex,New.Tex|", time.Unix(1700000500, 0))
	s := New(root)
	require.NoError(t, s.LoadRedirectorMap(context.Background()))
	assert.Equal(t, map[string]string{"Old.Tex": "New.Tex"}, s.RedirectorMap())

	_, stamp, err := readCache(s.CachePath(RedirectorMapper))
	require.NoError(t, err)
	assert.Equal(t, uint64(time.Unix(1700000500, 0).UnixNano()), stamp)
}

func TestStoreRebuildsCorruptCache(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSource(t, root, PackageMapper, packageText, time.Unix(1700000000, 0))
	s := New(root)
	garbage := append(make([]byte, 8), 0xFF, 0xFF, 0xFF, 0xFF, 0x01)
	require.NoError(t, os.WriteFile(s.CachePath(PackageMapper), garbage, 0o600))

	require.NoError(t, s.LoadPackageMap(context.Background()))
	assert.Equal(t, 2, s.LenPackages())
}

func TestStoreMissingSource(t *testing.T) {
	t.Parallel()

	s := New(t.TempDir())
	err := s.LoadCompositeMap(context.Background())
	require.ErrorIs(t, err, ErrSourceMissing)
	require.ErrorIs(t, err, format.ErrFormat)
}

func TestStoreCorruptSource(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSource(t, root, PackageMapper, "no separators here|", time.Unix(1700000000, 0))
	err := New(root).LoadPackageMap(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestStoreDumpDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dump := filepath.Join(t.TempDir(), "dump")
	writeSource(t, root, RedirectorMapper, redirectText, time.Unix(1700000000, 0))
	require.NoError(t, New(root, WithDumpDir(dump)).LoadRedirectorMap(context.Background()))

	data, err := os.ReadFile(filepath.Join(dump, RedirectorMapper+".txt"))
	require.NoError(t, err)
	assert.Equal(t, "Old.Mesh,New.Mesh|\n", string(data))
}
