package upkg

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// GetObject returns the object for ref. The null reference yields nil.
//
// Export objects are constructed on first use and the same instance is
// returned afterwards. With load set, an object implementing Loader is
// deserialized once from the package data. Imports that cannot be satisfied
// yield a nil object and a nil error; they are logged and counted instead.
func (p *Package) GetObject(ctx context.Context, ref ObjectRef, load bool) (Object, error) {
	if ref.IsNull() {
		return nil, nil
	}
	if !p.Ready() {
		return nil, fmt.Errorf("%s: %w", p.name, ErrNotReady)
	}
	switch {
	case ref.IsExport():
		exp := p.Export(ref)
		if exp == nil {
			return nil, fmt.Errorf("%w: %s: export %s out of range", ErrFormat, p.name, ref)
		}
		obj := p.ObjectFor(exp)
		if load {
			if err := p.loadObject(ctx, exp, obj); err != nil {
				return obj, err
			}
		}
		return obj, nil
	default:
		imp := p.Import(ref)
		if imp == nil {
			return nil, fmt.Errorf("%w: %s: import %s out of range", ErrFormat, p.name, ref)
		}
		return p.ResolveImport(ctx, imp, load), nil
	}
}

// ObjectFor returns the object of exp, constructing it with the registry's
// factory on first use.
func (p *Package) ObjectFor(exp *Export) Object {
	if exp == nil {
		return nil
	}
	if exp.virtual {
		return exp.vobj
	}
	p.objMu.Lock()
	defer p.objMu.Unlock()
	if obj, ok := p.objects[exp.ref]; ok {
		return obj
	}
	obj := p.reg.factory(exp)
	p.objects[exp.ref] = obj
	return obj
}

// ResolveImport returns the object imp refers to, or nil.
//
// Imports whose package is another package are satisfied by that package:
// packages already attached as externals are asked first, then the package
// is opened by name. A package that satisfies an import stays retained by p
// until p is torn down. The resolved object is cached on imp.
func (p *Package) ResolveImport(ctx context.Context, imp *Import, load bool) Object {
	if imp == nil {
		return nil
	}
	if obj := imp.resolved(); obj != nil {
		return obj
	}

	var obj Object
	if imp.pkg == p && !p.owns(imp.PackageName()) {
		obj = p.resolveForeign(ctx, imp, load)
	} else {
		obj = p.findLocal(ctx, imp, load)
	}
	if obj == nil {
		return nil
	}
	return imp.cache(obj)
}

func (i *Import) resolved() Object {
	i.pkg.objMu.Lock()
	defer i.pkg.objMu.Unlock()
	return i.object
}

// cache stores obj unless another caller resolved the import first.
func (i *Import) cache(obj Object) Object {
	i.pkg.objMu.Lock()
	defer i.pkg.objMu.Unlock()
	if i.object == nil {
		i.object = obj
	}
	return i.object
}

// owns reports whether name refers to p itself.
func (p *Package) owns(name string) bool {
	return name == p.BaseName() || name == p.name
}

// findLocal searches p for the object imp names: virtual exports by exact
// name and class first, then real exports of that name and class. Among
// several real candidates the one whose outer matches the import's outer
// is preferred.
func (p *Package) findLocal(ctx context.Context, imp *Import, load bool) Object {
	if !p.Ready() {
		return nil
	}
	p.objMu.Lock()
	for _, v := range p.virtual {
		if v.name == imp.name && v.className == imp.className {
			p.objMu.Unlock()
			return v.vobj
		}
	}
	p.objMu.Unlock()

	var match *Export
	for _, exp := range p.byName[imp.name] {
		if exp.className != imp.className {
			continue
		}
		if match == nil {
			match = exp
		}
		if imp.outer != nil && exp.outer != nil && exp.outer.name == imp.outer.name {
			match = exp
			break
		}
	}
	if match == nil {
		return nil
	}
	obj := p.ObjectFor(match)
	if load {
		if err := p.loadObject(ctx, match, obj); err != nil {
			p.log().Warn("failed to load imported object", "object", match.Path(), "error", err)
		}
	}
	return obj
}

// resolveForeign satisfies imp from the package it lives in. Failures are
// logged and yield nil.
func (p *Package) resolveForeign(ctx context.Context, imp *Import, load bool) Object {
	name := imp.PackageName()
	for _, ext := range p.Externals() {
		if ext.owns(name) {
			if obj := ext.findLocal(ctx, imp, load); obj != nil {
				return obj
			}
			p.unresolved(imp, nil)
			return nil
		}
	}

	ext, err := p.reg.OpenNamed(ctx, name, uuid.Nil)
	if err != nil {
		p.unresolved(imp, err)
		return nil
	}
	if ext == p {
		p.reg.Close(ext)
		return p.findLocal(ctx, imp, load)
	}
	if err := ext.Load(ctx); err != nil {
		p.reg.Close(ext)
		p.unresolved(imp, err)
		return nil
	}
	obj := ext.findLocal(ctx, imp, load)
	if obj == nil {
		p.reg.Close(ext)
		p.unresolved(imp, nil)
		return nil
	}
	p.attach(ext)
	return obj
}

// attach keeps ext alive as an external of p. A package that is already
// attached gives back the extra reference.
func (p *Package) attach(ext *Package) {
	p.extMu.Lock()
	if slices.Contains(p.externals, ext) {
		p.extMu.Unlock()
		p.reg.Close(ext)
		return
	}
	p.externals = append(p.externals, ext)
	p.extMu.Unlock()
	p.log().Debug("attached external package", "external", ext.name)
}

func (p *Package) unresolved(imp *Import, err error) {
	p.reg.metrics.unresolved.Inc()
	args := []any{"import", imp.Path(), "class", imp.className}
	if err != nil {
		args = append(args, "error", err)
	}
	if err != nil && !errIsNotFound(err) {
		p.log().Error("failed to resolve import", args...)
		return
	}
	p.log().Warn("couldn't find import", args...)
}

// CreateVirtualExport adds an export that has no record in the package,
// such as a built-in class. Its object is constructed immediately. Creating
// an existing name and class again returns the existing export.
func (p *Package) CreateVirtualExport(name, className string) *Export {
	p.objMu.Lock()
	defer p.objMu.Unlock()
	for _, v := range p.virtual {
		if v.name == name && v.className == className {
			return v
		}
	}
	exp := &Export{
		pkg:       p,
		ref:       NullRef,
		name:      name,
		className: className,
		virtual:   true,
	}
	exp.vobj = p.reg.factory(exp)
	exp.loaded.Store(true)
	p.virtual = append(p.virtual, exp)
	return exp
}

// VirtualExports returns the exports created with CreateVirtualExport.
func (p *Package) VirtualExports() []*Export {
	p.objMu.Lock()
	defer p.objMu.Unlock()
	return slices.Clone(p.virtual)
}

// LoadClass returns the class object ref points at. Classes are looked up in
// the registry's class map before the import is resolved; resolved classes
// are added to the map. A class that cannot be found is reported once per
// name and yields nil.
func (p *Package) LoadClass(ctx context.Context, ref ObjectRef) Object {
	if ref.IsNull() || !p.Ready() {
		return nil
	}
	r := p.reg
	if ref.IsExport() {
		exp := p.Export(ref)
		if exp == nil {
			return nil
		}
		obj := p.ObjectFor(exp)
		r.addClass(exp.name, obj)
		return obj
	}

	imp := p.Import(ref)
	if imp == nil {
		return nil
	}
	if obj := imp.resolved(); obj != nil {
		return obj
	}
	if obj := r.Class(imp.name); obj != nil {
		return imp.cache(obj)
	}
	if obj := p.ResolveImport(ctx, imp, false); obj != nil {
		r.addClass(imp.name, obj)
		return obj
	}
	r.missingClass(imp.name)
	return nil
}

// ObjectIndex returns the reference p uses for obj: its export reference
// when p defines it, otherwise the import that resolved to it.
func (p *Package) ObjectIndex(obj Object) (ObjectRef, error) {
	if obj == nil {
		return NullRef, nil
	}
	exp := obj.Export()
	if exp != nil && exp.pkg == p && !exp.virtual {
		return exp.ref, nil
	}
	for _, imp := range p.Imports() {
		if imp.resolved() == obj {
			return imp.ref, nil
		}
	}
	name := "<nil>"
	if exp != nil {
		name = exp.Path()
	}
	return NullRef, fmt.Errorf("%w: %s has no import for %s", ErrUnresolved, p.name, name)
}

// loadObject deserializes obj from the package data file once.
func (p *Package) loadObject(ctx context.Context, exp *Export, obj Object) error {
	if _, ok := obj.(Loader); !ok || exp.loaded.Load() {
		return nil
	}
	p.loadMu.Lock()
	f, size := p.file, p.dataSize
	p.loadMu.Unlock()
	if f == nil {
		return fmt.Errorf("%s: %w", p.name, ErrClosed)
	}
	return p.loadWith(ctx, exp, obj, newObjectReader(p, f, size, true))
}

// loadWith deserializes obj through rd unless it was loaded already.
func (p *Package) loadWith(ctx context.Context, exp *Export, obj Object, rd *ObjectReader) error {
	l, ok := obj.(Loader)
	if !ok || !exp.loaded.CompareAndSwap(false, true) {
		return nil
	}
	if err := rd.begin(exp); err != nil {
		exp.loaded.Store(false)
		return err
	}
	if err := l.Load(ctx, rd); err != nil {
		exp.loaded.Store(false)
		return fmt.Errorf("load %s: %w", exp.Path(), err)
	}
	return nil
}
