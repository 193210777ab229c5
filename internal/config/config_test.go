package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("UPKG_ROOT", "")
	require.NoError(t, os.Unsetenv("UPKG_ROOT"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upkg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`root: /games/tera
workers: 3
log_level: debug
class_packages:
  - Core.u
  - Engine.u
`), 0o600))
	t.Setenv("UPKG_WORKERS", "8")
	t.Setenv("UPKG_DUMP_DIR", "/tmp/dump")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/games/tera", cfg.Root)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"Core.u", "Engine.u"}, cfg.ClassPackages)
	assert.Equal(t, "/tmp/dump", cfg.DumpDir)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadEnvList(t *testing.T) {
	t.Setenv("UPKG_CLASS_PACKAGES", "Core.u,S1Game.u")
	t.Setenv("UPKG_REBUILD_INDEX", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"Core.u", "S1Game.u"}, cfg.ClassPackages)
	assert.True(t, cfg.RebuildIndex)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("UPKG_WORKERS", "many")
	_, err = Load("")
	require.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := &Config{LogLevel: "loud"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "root is required")
	assert.ErrorContains(t, err, "loud")
}
