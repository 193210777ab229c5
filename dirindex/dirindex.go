// Package dirindex discovers package files under a game root and memoizes
// the list in a plain-text cache file.
package dirindex

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// CacheName is the cache file written into the root.
const CacheName = "DirCache.re"

// IgnoreName is an optional gitignore-style file in the root listing paths
// to leave out of a scan.
const IgnoreName = ".upkignore"

// Extensions recognized as package files, compared case-insensitively.
var Extensions = []string{".gpk", ".gmp", ".upk", ".u"}

// Index is an ordered list of package paths relative to a root.
type Index struct {
	root  string
	paths []string
}

type options struct {
	logger  *slog.Logger
	rebuild bool
}

// Option configures Load and Build.
type Option func(*options)

// WithLogger sets the logger used while scanning.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRebuild forces Load to rescan even when a cache file exists.
func WithRebuild() Option {
	return func(o *options) {
		o.rebuild = true
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Load returns the index for root. If the cache file exists it is read
// verbatim and the filesystem is not scanned.
func Load(root string, opts ...Option) (*Index, error) {
	o := newOptions(opts)
	if !o.rebuild {
		data, err := os.ReadFile(filepath.Join(root, CacheName)) //nolint:gosec // cache lives in the configured root
		switch {
		case err == nil:
			idx := &Index{root: root, paths: parseCache(data)}
			o.logger.Debug("directory cache loaded", "root", root, "packages", len(idx.paths))
			return idx, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read directory cache: %w", err)
		}
	}
	return build(root, o)
}

// Build scans root, rewrites the cache file and returns the fresh index.
func Build(root string, opts ...Option) (*Index, error) {
	return build(root, newOptions(opts))
}

func build(root string, o *options) (*Index, error) {
	o.logger.Info("building directory cache", "root", root)

	gi := loadIgnore(root, o.logger)
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !IsPackageFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	slices.SortStableFunc(paths, func(a, b string) int {
		return strings.Compare(stem(a), stem(b))
	})

	if err := writeCache(filepath.Join(root, CacheName), paths); err != nil {
		return nil, fmt.Errorf("write directory cache: %w", err)
	}
	o.logger.Info("directory cache built", "root", root, "packages", len(paths))
	return &Index{root: root, paths: paths}, nil
}

// IsPackageFile reports whether name has a package extension.
func IsPackageFile(name string) bool {
	ext := filepath.Ext(name)
	for _, want := range Extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// Root returns the directory the index was built from.
func (idx *Index) Root() string { return idx.root }

// Len returns the number of indexed packages.
func (idx *Index) Len() int { return len(idx.paths) }

// Paths returns a copy of the indexed relative paths in index order.
func (idx *Index) Paths() []string { return slices.Clone(idx.paths) }

// Abs joins a relative index path onto the root.
func (idx *Index) Abs(rel string) string {
	return filepath.Join(idx.root, filepath.FromSlash(rel))
}

// Matches yields, in index order, every relative path whose file name
// starts with prefix.
func (idx *Index) Matches(prefix string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, p := range idx.paths {
			if strings.HasPrefix(path.Base(p), prefix) && !yield(p) {
				return
			}
		}
	}
}

func stem(rel string) string {
	base := path.Base(rel)
	return strings.TrimSuffix(base, path.Ext(base))
}

func parseCache(data []byte) []string {
	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths
}

func writeCache(dst string, paths []string) error {
	var buf bytes.Buffer
	for _, p := range paths {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), CacheName+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func loadIgnore(root string, logger *slog.Logger) *ignore.GitIgnore {
	p := filepath.Join(root, IgnoreName)
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(p)
	if err != nil {
		logger.Warn("ignoring unreadable ignore file", "path", p, "error", err)
		return nil
	}
	return gi
}
