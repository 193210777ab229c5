package upkg

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/upkg/internal/format"
)

// State is the load state of a package.
type State uint8

const (
	StateNotLoaded State = iota
	StateLoading
	StateReady
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateCancelled:
		return "cancelled"
	default:
		return "not loaded"
	}
}

// Package is one open archive.
//
// A Package is created by a Registry and stays valid until its last
// reference is released with Registry.Close. Tables are populated by Load
// and are read-only once Ready reports true.
type Package struct {
	reg     *Registry
	summary *format.Summary

	sourcePath      string
	dataPath        string
	compositeSource string
	compositeData   string
	compositeDigest digest.Digest
	name            string

	// refs and closed are guarded by reg.mu.
	refs     int
	closed   bool
	teardown sync.Once

	loadMu    sync.Mutex
	loading   atomic.Bool
	ready     atomic.Bool
	cancelled atomic.Bool
	cancel    atomic.Bool
	onElement func(table string, i int) // test hook, called before each cancel check

	file        *os.File
	dataSize    int64
	namesMu     sync.RWMutex
	names       []format.NameEntry
	imports     []*Import
	exports     []*Export
	depends     [][]ObjectRef
	rootExports []*Export
	rootImports []*Import
	byName      map[string][]*Export

	objMu   sync.Mutex
	objects map[ObjectRef]Object
	virtual []*Export

	extMu     sync.Mutex
	externals []*Package

	resolveRefs atomic.Bool
}

func newPackage(r *Registry, sourcePath, dataPath string, sum *format.Summary) *Package {
	p := &Package{
		reg:        r,
		summary:    sum,
		sourcePath: sourcePath,
		dataPath:   dataPath,
		name:       fileName(sourcePath),
		objects:    make(map[ObjectRef]Object),
	}
	p.resolveRefs.Store(true)
	return p
}

func (p *Package) log() *slog.Logger {
	return p.reg.log().With("package", p.name)
}

// Name returns the package's logical name including any file extension.
func (p *Package) Name() string { return p.name }

// BaseName returns the logical name without extension.
func (p *Package) BaseName() string { return baseName(p.name) }

// SourcePath returns the file the package was opened from.
func (p *Package) SourcePath() string { return p.sourcePath }

// DataPath returns the file tables and payloads are read from. It differs
// from SourcePath when the package was decompressed to a temporary file.
func (p *Package) DataPath() string { return p.dataPath }

// CompositeSourcePath returns the bundle a composite package was carved
// from, or "" for ordinary packages.
func (p *Package) CompositeSourcePath() string { return p.compositeSource }

// CompositeDigest returns the digest of the carved composite range.
func (p *Package) CompositeDigest() digest.Digest { return p.compositeDigest }

// Composite reports whether the package was carved out of a bundle.
func (p *Package) Composite() bool { return p.compositeSource != "" }

// GUID returns the package content GUID.
func (p *Package) GUID() uuid.UUID { return p.summary.GUID }

func (p *Package) FileVersion() uint16     { return p.summary.FileVersion }
func (p *Package) LicenseeVersion() uint16 { return p.summary.LicenseeVersion }

// Summary returns a copy of the package summary.
func (p *Package) Summary() Summary { return *p.summary }

// Ready reports whether Load completed.
func (p *Package) Ready() bool { return p.ready.Load() }

// State returns the current load state.
func (p *Package) State() State {
	switch {
	case p.ready.Load():
		return StateReady
	case p.loading.Load():
		return StateLoading
	case p.cancelled.Load():
		return StateCancelled
	default:
		return StateNotLoaded
	}
}

// Cancel asks an in-flight Load to stop. If no Load is running the next
// one is aborted instead.
func (p *Package) Cancel() {
	p.cancel.Store(true)
}

// Names returns a copy of the names table.
func (p *Package) Names() []NameEntry {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	return append([]NameEntry(nil), p.names...)
}

// Imports returns the import table. It is nil until the package is ready.
func (p *Package) Imports() []*Import {
	if !p.Ready() {
		return nil
	}
	return p.imports
}

// Exports returns the export table. It is nil until the package is ready.
func (p *Package) Exports() []*Export {
	if !p.Ready() {
		return nil
	}
	return p.exports
}

// RootExports returns the exports without an outer export.
func (p *Package) RootExports() []*Export {
	if !p.Ready() {
		return nil
	}
	return p.rootExports
}

// RootImports returns the imports without an outer import.
func (p *Package) RootImports() []*Import {
	if !p.Ready() {
		return nil
	}
	return p.rootImports
}

// Export returns the export for ref, or nil if ref is not a valid export.
func (p *Package) Export(ref ObjectRef) *Export {
	if !p.Ready() || !ref.IsExport() || ref.Slot() >= len(p.exports) {
		return nil
	}
	return p.exports[ref.Slot()]
}

// Import returns the import for ref, or nil if ref is not a valid import.
func (p *Package) Import(ref ObjectRef) *Import {
	if !p.Ready() || !ref.IsImport() || ref.Slot() >= len(p.imports) {
		return nil
	}
	return p.imports[ref.Slot()]
}

// Depends returns the references an export depends on.
func (p *Package) Depends(ref ObjectRef) []ObjectRef {
	if !p.Ready() || !ref.IsExport() || ref.Slot() >= len(p.depends) {
		return nil
	}
	return p.depends[ref.Slot()]
}

// ExportsNamed returns the exports with the given object name. If none
// exists, a virtual export of that name is returned instead.
func (p *Package) ExportsNamed(name string) []*Export {
	if !p.Ready() {
		return nil
	}
	if exps := p.byName[name]; len(exps) > 0 {
		return exps
	}
	p.objMu.Lock()
	defer p.objMu.Unlock()
	for _, v := range p.virtual {
		if v.name == name {
			return []*Export{v}
		}
	}
	return nil
}

// FindImport returns the first import with the given object and class name.
func (p *Package) FindImport(objectName, className string) *Import {
	for _, imp := range p.Imports() {
		if imp.name == objectName && imp.className == className {
			return imp
		}
	}
	return nil
}

// NameIndex returns the index of name in the names table. With insert set a
// missing name is appended.
func (p *Package) NameIndex(name string, insert bool) (int, bool) {
	p.namesMu.Lock()
	defer p.namesMu.Unlock()
	for i, e := range p.names {
		if e.Text == name {
			return i, true
		}
	}
	if !insert {
		return -1, false
	}
	p.names = append(p.names, format.NameEntry{Text: name})
	return len(p.names) - 1, true
}

func (p *Package) nameOf(n format.Name) (string, error) {
	p.namesMu.RLock()
	defer p.namesMu.RUnlock()
	return n.Resolve(p.names)
}

// Externals returns the packages retained to satisfy foreign imports.
func (p *Package) Externals() []*Package {
	p.extMu.Lock()
	defer p.extMu.Unlock()
	return append([]*Package(nil), p.externals...)
}

// fileName returns the last element of a slash or backslash separated path.
func fileName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// baseName strips everything from the first '.' that is not a leading dot.
func baseName(name string) string {
	start := 0
	for start < len(name) && name[start] == '.' {
		start++
	}
	if i := strings.IndexByte(name[start:], '.'); i >= 0 {
		return name[start : start+i]
	}
	return name[start:]
}
