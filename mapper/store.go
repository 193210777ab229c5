// Package mapper loads the encrypted auxiliary tables that map package names
// to files, locate composite sub-packages and redirect object paths.
//
// Each table is decrypted from <root>/CookedPC/<Name>.dat at most once per
// source modification: the parsed table is memoized in <root>/<Name>.re,
// stamped with the source timestamp, and reused while the stamp matches.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Table names. They double as source and cache file stems.
const (
	PackageMapper    = "PkgMapper"
	CompositeMapper  = "CompositePackageMapper"
	RedirectorMapper = "ObjectRedirectorMapper"
)

const (
	sourceDir = "CookedPC"
	sourceExt = ".dat"
	cacheExt  = ".re"
)

// Store holds the three mapper tables of one game root.
type Store struct {
	root    string
	dumpDir string
	logger  *slog.Logger

	mu         sync.RWMutex
	packages   map[string]string
	composites map[string]CompositeEntry
	redirects  map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithDumpDir writes the decrypted text of every rebuilt table to dir.
func WithDumpDir(dir string) Option {
	return func(s *Store) {
		s.dumpDir = dir
	}
}

// New creates a Store rooted at the game directory root. No files are read
// until one of the Load methods is called.
func New(root string, opts ...Option) *Store {
	s := &Store{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Root returns the game directory the store reads from.
func (s *Store) Root() string { return s.root }

// Load loads all three tables in parallel.
func (s *Store) Load(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.LoadPackageMap(ctx) })
	g.Go(func() error { return s.LoadCompositeMap(ctx) })
	g.Go(func() error { return s.LoadRedirectorMap(ctx) })
	return g.Wait()
}

// LoadPackageMap loads the package name to path table.
func (s *Store) LoadPackageMap(ctx context.Context) error {
	t, err := s.load(ctx, PackageMapper, func(text string) (*tables, error) {
		pairs, err := ParsePairs(text, PackageMapper)
		return &tables{pairs: pairs}, err
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.packages = nonNil(t.pairs)
	s.mu.Unlock()
	return nil
}

// LoadCompositeMap loads the composite package table.
func (s *Store) LoadCompositeMap(ctx context.Context) error {
	t, err := s.load(ctx, CompositeMapper, func(text string) (*tables, error) {
		entries, err := ParseComposite(text)
		return &tables{composites: entries}, err
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.composites = nonNil(t.composites)
	s.mu.Unlock()
	return nil
}

// LoadRedirectorMap loads the object redirector table.
func (s *Store) LoadRedirectorMap(ctx context.Context) error {
	t, err := s.load(ctx, RedirectorMapper, func(text string) (*tables, error) {
		pairs, err := ParsePairs(text, RedirectorMapper)
		return &tables{pairs: pairs}, err
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.redirects = nonNil(t.pairs)
	s.mu.Unlock()
	return nil
}

// PackagePath returns the path mapped to a package name.
func (s *Store) PackagePath(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.packages[name]
	return v, ok
}

// Redirect returns the replacement for a redirected object path.
func (s *Store) Redirect(objectPath string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.redirects[objectPath]
	return v, ok
}

// Composite returns the composite entry for a package name.
func (s *Store) Composite(pkg string) (CompositeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.composites[pkg]
	return e, ok
}

// PackageMap returns a copy of the package table.
func (s *Store) PackageMap() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.packages)
}

// CompositeMap returns a copy of the composite table.
func (s *Store) CompositeMap() map[string]CompositeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.composites)
}

// RedirectorMap returns a copy of the redirector table.
func (s *Store) RedirectorMap() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.redirects)
}

func (s *Store) LenPackages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.packages)
}

func (s *Store) LenComposites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.composites)
}

func (s *Store) LenRedirects() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.redirects)
}

// SourcePath returns the encrypted source file of a table.
func (s *Store) SourcePath(name string) string {
	return filepath.Join(s.root, sourceDir, name+sourceExt)
}

// CachePath returns the cache file of a table.
func (s *Store) CachePath(name string) string {
	return filepath.Join(s.root, name+cacheExt)
}

func (s *Store) load(ctx context.Context, name string, parse func(string) (*tables, error)) (*tables, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := s.log().With("table", name)

	srcPath := s.SourcePath(name)
	stamp, err := sourceStamp(srcPath)
	if err != nil {
		return nil, err
	}

	cachePath := s.CachePath(name)
	cached, cachedStamp, err := readCache(cachePath)
	switch {
	case err == nil && (cachedStamp == stamp || stamp == 0):
		logger.Debug("mapper cache hit", "path", cachePath)
		return cached, nil
	case err == nil:
		logger.Info("mapper cache stale", "path", cachePath, "cached", cachedStamp, "source", stamp)
	case errors.Is(err, fs.ErrNotExist):
	default:
		logger.Warn("mapper cache unreadable, rebuilding", "path", cachePath, "error", err)
	}

	if stamp == 0 {
		return nil, fmt.Errorf("%w: %w: %s", ErrCorrupt, ErrSourceMissing, srcPath)
	}

	encrypted, err := os.ReadFile(srcPath) //nolint:gosec // path is derived from the configured root
	if err != nil {
		return nil, err
	}
	text, err := DecryptText(encrypted)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if s.dumpDir != "" {
		s.dump(name, text)
	}
	t, err := parse(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if err := writeCache(cachePath, stamp, t); err != nil {
		logger.Warn("failed to write mapper cache", "path", cachePath, "error", err)
	}
	return t, nil
}

func (s *Store) dump(name, text string) {
	if err := os.MkdirAll(s.dumpDir, 0o750); err != nil {
		s.log().Warn("failed to create dump directory", "dir", s.dumpDir, "error", err)
		return
	}
	path := filepath.Join(s.dumpDir, name+".txt")
	// Records are written one per line for readability.
	out := strings.ReplaceAll(text, "|", "|\n")
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		s.log().Warn("failed to dump mapper", "path", path, "error", err)
	}
}

// sourceStamp returns the modification time of path in nanoseconds, or 0 if
// the file does not exist.
func sourceStamp(path string) (uint64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(info.ModTime().UnixNano()), nil //nolint:gosec // mtimes are after the epoch
}

func nonNil[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
