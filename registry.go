package upkg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/upkg/dirindex"
	"github.com/meigma/upkg/internal/batch"
	"github.com/meigma/upkg/internal/compress"
	"github.com/meigma/upkg/mapper"
)

const tracerName = "github.com/meigma/upkg"

// Registry tracks the open packages of one game root.
//
// The loaded list and the class map are guarded by separate locks that are
// never held across file I/O. When both are needed the registry lock is
// taken first.
type Registry struct {
	root             string
	logger           *slog.Logger
	factory          Factory
	workers          int
	group            *batch.Group
	tempDir          string
	codecOpts        []compress.Option
	maxDecoderMemory uint64
	decoderLowmem    bool
	decoder          *compress.Decoder
	registerer       prometheus.Registerer
	metrics          *metrics
	tracerProvider   trace.TracerProvider
	tracer           trace.Tracer
	builtins         []string
	classPackages    []string

	indexMu sync.Mutex
	index   *dirindex.Index

	mappersMu sync.RWMutex
	mappers   *mapper.Store

	mu       sync.Mutex
	loaded   []*Package
	shutdown bool
	flights  singleflight.Group

	classMu     sync.Mutex
	classes     map[string]Object
	missing     map[string]struct{}
	coreVersion uint16
	coreSet     bool
	classPkgs   []*Package

	persistMu    sync.RWMutex
	bulkData     map[string]BulkDataInfo
	textureCache map[string]TextureFileCacheInfo
}

// New creates a Registry for the game directory root. Nothing is read from
// disk until a package is opened.
func New(root string, opts ...Option) *Registry {
	r := &Registry{
		root:          root,
		factory:       DefaultFactory,
		builtins:      DefaultBuiltinClasses,
		classPackages: DefaultClassPackages,
		classes:       make(map[string]Object),
		missing:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tempDir == "" {
		r.tempDir = os.TempDir()
	}
	if r.tracerProvider == nil {
		r.tracerProvider = otel.GetTracerProvider()
	}
	r.tracer = r.tracerProvider.Tracer(tracerName)
	r.group = batch.New(r.workers)
	pool := compress.NewZstdPool(r.maxDecoderMemory, r.decoderLowmem)
	r.decoder = compress.NewDecoder(append([]compress.Option{compress.WithZstdPool(pool)}, r.codecOpts...)...)
	r.metrics = newMetrics(r.registerer, r.log())
	return r
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Registry) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Root returns the game directory.
func (r *Registry) Root() string { return r.root }

// LoadMappers loads the mapper tables of the root and uses them for
// composite and alias resolution.
func (r *Registry) LoadMappers(ctx context.Context) error {
	s := mapper.New(r.root, mapper.WithLogger(r.log()))
	if err := s.Load(ctx); err != nil {
		return err
	}
	r.mappersMu.Lock()
	r.mappers = s
	r.mappersMu.Unlock()
	return nil
}

// Mappers returns the mapper tables in use, or nil.
func (r *Registry) Mappers() *mapper.Store {
	r.mappersMu.RLock()
	defer r.mappersMu.RUnlock()
	return r.mappers
}

// DirIndex returns the directory index, loading it from the root on first use.
func (r *Registry) DirIndex() (*dirindex.Index, error) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	if r.index != nil {
		return r.index, nil
	}
	idx, err := dirindex.Load(r.root, dirindex.WithLogger(r.log()))
	if err != nil {
		return nil, err
	}
	r.index = idx
	return idx, nil
}

// Loaded returns the packages currently held by the registry.
func (r *Registry) Loaded() []*Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.loaded)
}

// Open returns the package at path, reading its summary on first use.
// Compressed packages are decompressed to a temporary file. Every successful
// Open must be paired with Close.
func (r *Registry) Open(ctx context.Context, path string) (*Package, error) {
	path = cleanPath(path)
	ctx, span := r.tracer.Start(ctx, "upkg.Registry.Open",
		trace.WithAttributes(attribute.String("upkg.path", path)))
	defer span.End()

	for {
		if p, err := r.retainPath(path); p != nil || err != nil {
			return p, err
		}
		p, _, err := r.openShared(ctx, path)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "open failed")
			return nil, err
		}
		if r.retain(p) {
			return p, nil
		}
	}
}

// OpenNamed resolves a logical package name. Already open packages are
// preferred, then composite packages from the mapper tables, then the first
// file in the directory index whose name starts with name. A non-nil guid
// must match the package GUID. Unresolved names return ErrNotFound.
func (r *Registry) OpenNamed(ctx context.Context, name string, guid uuid.UUID) (*Package, error) {
	ctx, span := r.tracer.Start(ctx, "upkg.Registry.OpenNamed",
		trace.WithAttributes(attribute.String("upkg.name", name)))
	defer span.End()

	p, err := r.openNamed(ctx, name, guid)
	if errors.Is(err, ErrNotFound) {
		if alias := r.alias(name); alias != "" {
			r.log().Debug("resolving package alias", "name", name, "alias", alias)
			p, err = r.openNamed(ctx, alias, guid)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return nil, err
	}
	return p, nil
}

func (r *Registry) openNamed(ctx context.Context, name string, guid uuid.UUID) (*Package, error) {
	key := "name:" + name + "|" + guid.String()
	for {
		if p, err := r.retainNamed(name, guid); p != nil || err != nil {
			return p, err
		}
		v, err, _ := r.flights.Do(key, func() (any, error) {
			return r.resolveNamed(ctx, name, guid)
		})
		if err != nil {
			return nil, err
		}
		if p := v.(*Package); r.retain(p) {
			return p, nil
		}
	}
}

// resolveNamed finds or opens the package for name without retaining it.
func (r *Registry) resolveNamed(ctx context.Context, name string, guid uuid.UUID) (*Package, error) {
	if p := r.findNamed(name, guid); p != nil {
		return p, nil
	}

	if entry, ok := r.composite(name); ok {
		p, err := r.openComposite(ctx, name, entry)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		r.log().Warn("composite bundle not found", "package", name, "bundle", entry.FileName)
	}

	idx, err := r.DirIndex()
	if err != nil {
		return nil, err
	}
	for rel := range idx.Matches(name) {
		p, created, err := r.openShared(ctx, idx.Abs(rel))
		if err != nil {
			return nil, err
		}
		if guid == uuid.Nil || p.GUID() == guid {
			return p, nil
		}
		if created {
			r.discard(p)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// alias returns the package-map target for name, reduced to a package name.
func (r *Registry) alias(name string) string {
	s := r.Mappers()
	if s == nil {
		return ""
	}
	v, ok := s.PackagePath(name)
	if !ok {
		return ""
	}
	if i := strings.IndexByte(v, '.'); i > 0 {
		v = v[:i]
	}
	if v == name {
		return ""
	}
	return v
}

// Close releases one reference to p. The last release tears the package
// down: its files are closed, temporary files removed and packages retained
// for foreign imports released in turn.
func (r *Registry) Close(p *Package) {
	if p == nil {
		return
	}
	r.mu.Lock()
	if p.closed || p.refs == 0 {
		r.mu.Unlock()
		return
	}
	p.refs--
	last := p.refs == 0
	if last {
		r.removeLocked(p)
	}
	r.mu.Unlock()

	if last {
		r.teardown(p)
	}
}

// Shutdown closes every package regardless of outstanding references and
// rejects further opens.
func (r *Registry) Shutdown() {
	r.UnloadClassPackages()

	r.mu.Lock()
	r.shutdown = true
	pkgs := r.loaded
	r.loaded = nil
	for _, p := range pkgs {
		p.closed = true
		p.refs = 0
	}
	r.mu.Unlock()

	for _, p := range pkgs {
		r.teardown(p)
	}
	r.metrics.loaded.Set(0)
}

func (r *Registry) retainPath(path string) (*Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return nil, ErrClosed
	}
	for _, p := range r.loaded {
		if p.sourcePath == path {
			p.refs++
			return p, nil
		}
	}
	return nil, nil
}

func (r *Registry) retainNamed(name string, guid uuid.UUID) (*Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return nil, ErrClosed
	}
	if p := r.findNamedLocked(name, guid); p != nil {
		p.refs++
		return p, nil
	}
	return nil, nil
}

func (r *Registry) findNamed(name string, guid uuid.UUID) *Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findNamedLocked(name, guid)
}

func (r *Registry) findNamedLocked(name string, guid uuid.UUID) *Package {
	for _, p := range r.loaded {
		if p.name != name && p.BaseName() != name {
			continue
		}
		if guid == uuid.Nil || p.GUID() == guid {
			return p
		}
	}
	return nil
}

func (r *Registry) retain(p *Package) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.closed {
		return false
	}
	p.refs++
	return true
}

// register adds a freshly opened package with no references.
func (r *Registry) register(p *Package) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return ErrClosed
	}
	r.loaded = append(r.loaded, p)
	n := len(r.loaded)
	r.mu.Unlock()

	r.metrics.opened.Inc()
	r.metrics.loaded.Set(float64(n))
	return nil
}

// discard drops a registered package that nobody retained.
func (r *Registry) discard(p *Package) {
	r.mu.Lock()
	if p.closed || p.refs > 0 {
		r.mu.Unlock()
		return
	}
	r.removeLocked(p)
	r.mu.Unlock()
	r.teardown(p)
}

func (r *Registry) removeLocked(p *Package) {
	p.closed = true
	if i := slices.Index(r.loaded, p); i >= 0 {
		r.loaded = slices.Delete(r.loaded, i, i+1)
	}
	r.metrics.loaded.Set(float64(len(r.loaded)))
}

func (p *Package) isClosed() bool {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.closed
}

func (r *Registry) teardown(p *Package) {
	p.teardown.Do(func() {
		// Waits for an in-flight Load to finish with the data file.
		p.loadMu.Lock()
		if p.file != nil {
			if err := p.file.Close(); err != nil {
				p.log().Warn("failed to close package file", "error", err)
			}
			p.file = nil
		}
		p.ready.Store(false)
		p.loadMu.Unlock()

		if p.dataPath != p.sourcePath {
			removeTemp(p.log(), p.dataPath)
		}
		if p.compositeData != "" {
			removeTemp(p.log(), p.compositeData)
		}

		p.extMu.Lock()
		externals := p.externals
		p.externals = nil
		p.extMu.Unlock()
		for _, ext := range externals {
			r.Close(ext)
		}

		p.objMu.Lock()
		p.objects = make(map[ObjectRef]Object)
		p.virtual = nil
		p.objMu.Unlock()

		r.metrics.closed.Inc()
		p.log().Info("package unloaded")
	})
}

func removeTemp(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove temporary package", "path", path, "error", err)
	}
}
