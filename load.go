package upkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meigma/upkg/internal/format"
)

// Table names reported to the element hook.
const (
	tableNames   = "names"
	tableImports = "imports"
	tableExports = "exports"
	tableDepends = "depends"
	tableLink    = "link"
)

// tables is the parsed content of a package before it is published.
type tables struct {
	size        int64
	names       []format.NameEntry
	imports     []*Import
	exports     []*Export
	depends     [][]ObjectRef
	rootExports []*Export
	rootImports []*Import
	byName      map[string][]*Export
}

// Load parses the names, import, export and depends tables and links the
// containment tree. It is a no-op once the package is ready. Concurrent
// callers wait for the parse in progress instead of starting another one.
//
// Load checks for cancellation after every table element. A cancelled parse
// returns ErrCancelled, leaves the package not ready and consumes the cancel
// request so a later Load can succeed.
func (p *Package) Load(ctx context.Context) error {
	if p.ready.Load() {
		return nil
	}
	ctx, span := p.reg.tracer.Start(ctx, "upkg.Package.Load",
		trace.WithAttributes(attribute.String("upkg.package", p.name)))
	defer span.End()

	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if p.ready.Load() {
		return nil
	}
	if p.isClosed() {
		return fmt.Errorf("load %s: %w", p.name, ErrClosed)
	}

	p.loading.Store(true)
	defer p.loading.Store(false)

	f, err := os.Open(p.dataPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return fmt.Errorf("load %s: %w", p.name, err)
	}
	t, err := p.parse(ctx, f)
	if err != nil {
		f.Close()
		if errors.Is(err, ErrCancelled) {
			p.cancel.Store(false)
			p.cancelled.Store(true)
			p.reg.metrics.loadCancelled.Inc()
			p.log().Info("package load cancelled")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return fmt.Errorf("load %s: %w", p.name, err)
	}

	p.file = f
	p.dataSize = t.size
	p.namesMu.Lock()
	p.names = t.names
	p.namesMu.Unlock()
	p.imports = t.imports
	p.exports = t.exports
	p.depends = t.depends
	p.rootExports = t.rootExports
	p.rootImports = t.rootImports
	p.byName = t.byName
	p.cancelled.Store(false)
	p.ready.Store(true)

	p.log().Debug("package loaded",
		"names", len(t.names),
		"imports", len(t.imports),
		"exports", len(t.exports))
	return nil
}

func (p *Package) parse(ctx context.Context, f *os.File) (*tables, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	sum := p.summary
	r := format.NewReader(newHeaderReaderAt(f, info.Size(), sum.HeaderSize), info.Size())

	check := func(table string, i int) error {
		if p.onElement != nil {
			p.onElement(table, i)
		}
		if p.cancel.Load() {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return nil
	}

	t := &tables{
		size:    info.Size(),
		names:   make([]format.NameEntry, 0, sum.NamesCount),
		imports: make([]*Import, 0, sum.ImportsCount),
		exports: make([]*Export, 0, sum.ExportsCount),
		byName:  make(map[string][]*Export, sum.ExportsCount),
	}

	if err := r.SeekTo(int64(sum.NamesOffset)); err != nil {
		return nil, fmt.Errorf("names: %w", err)
	}
	for i := range int(sum.NamesCount) {
		e, err := format.ReadNameEntry(r)
		if err != nil {
			return nil, fmt.Errorf("name %d: %w", i, err)
		}
		t.names = append(t.names, e)
		if err := check(tableNames, i); err != nil {
			return nil, err
		}
	}

	if err := r.SeekTo(int64(sum.ImportsOffset)); err != nil {
		return nil, fmt.Errorf("imports: %w", err)
	}
	for i := range int(sum.ImportsCount) {
		rec, err := format.ReadImport(r)
		if err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		t.imports = append(t.imports, &Import{pkg: p, ref: ImportRef(i), rec: rec})
		if err := check(tableImports, i); err != nil {
			return nil, err
		}
	}

	if err := r.SeekTo(int64(sum.ExportsOffset)); err != nil {
		return nil, fmt.Errorf("exports: %w", err)
	}
	for i := range int(sum.ExportsCount) {
		rec, err := format.ReadExport(r)
		if err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
		t.exports = append(t.exports, &Export{pkg: p, ref: ExportRef(i), rec: rec})
		if err := check(tableExports, i); err != nil {
			return nil, err
		}
	}

	if sum.DependsOffset != 0 {
		if err := r.SeekTo(int64(sum.DependsOffset)); err != nil {
			return nil, fmt.Errorf("depends: %w", err)
		}
		t.depends = make([][]ObjectRef, 0, sum.ExportsCount)
		for i := range int(sum.ExportsCount) {
			refs, err := format.ReadDepends(r)
			if err != nil {
				return nil, fmt.Errorf("depends %d: %w", i, err)
			}
			t.depends = append(t.depends, refs)
			if err := check(tableDepends, i); err != nil {
				return nil, err
			}
		}
	}

	if err := t.resolveNames(); err != nil {
		return nil, err
	}
	if err := t.link(check); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *tables) resolveNames() error {
	var err error
	for i, imp := range t.imports {
		if imp.name, err = imp.rec.ObjectName.Resolve(t.names); err != nil {
			return fmt.Errorf("import %d: %w", i, err)
		}
		if imp.className, err = imp.rec.ClassName.Resolve(t.names); err != nil {
			return fmt.Errorf("import %d: %w", i, err)
		}
		if imp.classPackage, err = imp.rec.ClassPackage.Resolve(t.names); err != nil {
			return fmt.Errorf("import %d: %w", i, err)
		}
	}
	for i, exp := range t.exports {
		if exp.name, err = exp.rec.ObjectName.Resolve(t.names); err != nil {
			return fmt.Errorf("export %d: %w", i, err)
		}
	}
	for i, exp := range t.exports {
		switch ref := exp.rec.Class; {
		case ref.IsNull():
			exp.className = metaClassName
		case ref.IsExport() && ref.Slot() < len(t.exports):
			exp.className = t.exports[ref.Slot()].name
		case ref.IsImport() && ref.Slot() < len(t.imports):
			exp.className = t.imports[ref.Slot()].name
		default:
			return fmt.Errorf("%w: export %d class %s out of range", ErrFormat, i, ref)
		}
	}
	return nil
}

// link builds the containment tree and the name index.
func (t *tables) link(check func(string, int) error) error {
	for i, exp := range t.exports {
		outer := exp.rec.Outer
		switch {
		case outer.IsNull():
			t.rootExports = append(t.rootExports, exp)
		case outer.IsExport() && outer.Slot() < len(t.exports) && outer.Slot() != i:
			exp.outer = t.exports[outer.Slot()]
			exp.outer.inner = append(exp.outer.inner, exp)
		default:
			return fmt.Errorf("%w: export %d outer %s out of range", ErrFormat, i, outer)
		}
		if err := check(tableLink, i); err != nil {
			return err
		}
		t.byName[exp.name] = append(t.byName[exp.name], exp)
	}

	for i, imp := range t.imports {
		if err := check(tableLink, len(t.exports)+i); err != nil {
			return err
		}
		outer := imp.rec.Outer
		switch {
		case outer.IsNull():
			t.rootImports = append(t.rootImports, imp)
		case outer.IsImport() && outer.Slot() < len(t.imports) && outer.Slot() != i:
			imp.outer = t.imports[outer.Slot()]
			imp.outer.inner = append(imp.outer.inner, imp)
		case outer.IsExport():
			// Imports nested in exports are forward declarations; they are
			// reachable through the import table only.
		default:
			return fmt.Errorf("%w: import %d outer %s out of range", ErrFormat, i, outer)
		}
	}

	if err := checkAcyclic(len(t.exports), func(i int) int {
		if o := t.exports[i].outer; o != nil {
			return o.ref.Slot()
		}
		return -1
	}); err != nil {
		return fmt.Errorf("exports: %w", err)
	}
	if err := checkAcyclic(len(t.imports), func(i int) int {
		if o := t.imports[i].outer; o != nil {
			return o.ref.Slot()
		}
		return -1
	}); err != nil {
		return fmt.Errorf("imports: %w", err)
	}
	return nil
}

// checkAcyclic verifies that following parent from any of n nodes reaches a
// root. parent returns -1 for roots.
func checkAcyclic(n int, parent func(int) int) error {
	const (
		unseen = iota
		visiting
		done
	)
	state := make([]uint8, n)
	var path []int
	for start := range n {
		path = path[:0]
		i := start
		for i >= 0 && state[i] == unseen {
			state[i] = visiting
			path = append(path, i)
			i = parent(i)
		}
		if i >= 0 && state[i] == visiting {
			return fmt.Errorf("%w: outer chain of slot %d loops", ErrFormat, i)
		}
		for _, j := range path {
			state[j] = done
		}
	}
	return nil
}

// headerReaderAt serves the header region from memory and everything past
// it from the file.
type headerReaderAt struct {
	head []byte
	file io.ReaderAt
}

func newHeaderReaderAt(f io.ReaderAt, size int64, headerSize uint32) io.ReaderAt {
	n := min(int64(headerSize), size)
	if n <= 0 {
		return f
	}
	head := make([]byte, n)
	if _, err := f.ReadAt(head, 0); err != nil {
		return f
	}
	return &headerReaderAt{head: head, file: f}
}

func (h *headerReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= 0 && off+int64(len(p)) <= int64(len(h.head)) {
		return copy(p, h.head[off:]), nil
	}
	return h.file.ReadAt(p, off)
}
