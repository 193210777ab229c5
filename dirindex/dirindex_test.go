package dirindex

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
}

func TestBuildFiltersAndSorts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"CookedPC/Engine.u":         "x",
		"CookedPC/Core.U":           "x",
		"CookedPC/Maps/Town_SF.gmp": "x",
		"CookedPC/Art/Armor.GPK":    "x",
		"CookedPC/Art/Empty.gpk":    "",
		"CookedPC/readme.txt":       "x",
		"CookedPC/Art/Bundle.upk":   "x",
	})

	idx, err := Build(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CookedPC/Art/Armor.GPK",
		"CookedPC/Art/Bundle.upk",
		"CookedPC/Core.U",
		"CookedPC/Engine.u",
		"CookedPC/Maps/Town_SF.gmp",
	}, idx.Paths())
	assert.Equal(t, 5, idx.Len())
	assert.FileExists(t, filepath.Join(root, CacheName))
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a/Zeta.gpk":  "x",
		"b/Alpha.gpk": "x",
		"c/Mid.u":     "x",
	})
	built, err := Build(root)
	require.NoError(t, err)

	// New files must not appear: the cache is read verbatim.
	writeFiles(t, root, map[string]string{"d/Beta.gpk": "x"})
	loaded, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, built.Paths(), loaded.Paths())

	rebuilt, err := Load(root, WithRebuild())
	require.NoError(t, err)
	assert.Contains(t, rebuilt.Paths(), "d/Beta.gpk")
}

func TestLoadBuildsWithoutCache(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"Core.u": "x"})
	idx, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"Core.u"}, idx.Paths())
	assert.Equal(t, filepath.Join(root, "Core.u"), idx.Abs("Core.u"))
}

func TestBuildMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := Build(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestIgnoreFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		IgnoreName:          "Backup/\n*.bak.gpk\n",
		"Backup/Core.u":     "x",
		"Art/Armor.bak.gpk": "x",
		"Art/Armor.gpk":     "x",
	})
	idx, err := Build(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"Art/Armor.gpk"}, idx.Paths())
}

func TestMatches(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"Maps/Town_SF.gmp":     "x",
		"Maps/Town_Art_SF.gmp": "x",
		"Maps/Dungeon.gmp":     "x",
		"Town/Other.gpk":       "x",
	})
	idx, err := Build(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"Maps/Town_Art_SF.gmp", "Maps/Town_SF.gmp"}, slices.Collect(idx.Matches("Town_")))
	assert.Empty(t, slices.Collect(idx.Matches("Missing")))
}

func TestIsPackageFile(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]bool{
		"Core.u":      true,
		"Core.U":      true,
		"Map.GMP":     true,
		"Thing.upk":   true,
		"Thing.gpk":   true,
		"Thing.ugh":   false,
		"DirCache.re": false,
		"noext":       false,
	} {
		assert.Equal(t, want, IsPackageFile(name), name)
	}
}
