package upkg

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meigma/upkg/internal/batch"
)

const (
	metaDataName = "MetaData"
	toolTipKey   = "ToolTip"
)

// LoadClassPackages loads the foundational class packages in order. With no
// names the registry's class package list is used.
//
// The first package fixes the core file version; a later package with a
// different version fails with ErrVersionMismatch. A package that cannot be
// found fails with ErrNotFound. Both are bootstrap errors: the registry
// should not be used to load game packages afterwards.
func (r *Registry) LoadClassPackages(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = r.classPackages
	}
	ctx, span := r.tracer.Start(ctx, "upkg.Registry.LoadClassPackages",
		trace.WithAttributes(attribute.StringSlice("upkg.packages", names)))
	defer span.End()

	for _, name := range names {
		if err := r.loadClassPackage(ctx, name); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "class package failed")
			return fmt.Errorf("class package %s: %w", name, err)
		}
	}
	return nil
}

func (r *Registry) loadClassPackage(ctx context.Context, name string) error {
	r.log().Info("loading class package", "package", name)
	p, err := r.OpenNamed(ctx, name, uuid.Nil)
	if err != nil {
		return err
	}
	if err := p.Load(ctx); err != nil {
		r.Close(p)
		return err
	}

	core, fresh, err := r.adoptClassPackage(p)
	if err != nil || !fresh {
		r.Close(p)
		return err
	}
	if core {
		r.log().Info("core version", "file_version", p.FileVersion(), "licensee_version", p.LicenseeVersion())
		for _, b := range r.builtins {
			exp := p.CreateVirtualExport(b, metaClassName)
			r.addClass(b, exp.vobj)
		}
	}

	data, err := os.ReadFile(p.dataPath)
	if err != nil {
		return err
	}
	return r.loadClassObjects(ctx, p, data)
}

// adoptClassPackage checks p's version and records it as a class package.
// It reports whether p is the first, core package and whether p was not
// adopted before.
func (r *Registry) adoptClassPackage(p *Package) (core, fresh bool, err error) {
	r.classMu.Lock()
	defer r.classMu.Unlock()
	if slices.Contains(r.classPkgs, p) {
		return false, false, nil
	}
	core = !r.coreSet
	if core {
		r.coreVersion = p.FileVersion()
		r.coreSet = true
	} else if v := p.FileVersion(); v != r.coreVersion {
		return false, false, fmt.Errorf("%w: %s has version %d/%d, core is %d",
			ErrVersionMismatch, p.name, v, p.LicenseeVersion(), r.coreVersion)
	}
	r.classPkgs = append(r.classPkgs, p)
	return core, true, nil
}

// loadClassObjects deserializes every export of p from data in phases:
// classes, class linking, class defaults and then everything else. Each
// phase finishes before the next starts. Within a phase every root export's
// subtree is read by its own reader, children before parents.
func (r *Registry) loadClassObjects(ctx context.Context, p *Package, data []byte) error {
	var classes, defaults, other []*Export
	for _, exp := range p.exports {
		obj := p.ObjectFor(exp)
		if exp.className == metaClassName {
			r.addClass(exp.name, obj)
		}
	}
	for _, exp := range p.rootExports {
		switch {
		case exp.IsClassDefault():
			defaults = append(defaults, exp)
		case exp.className == metaClassName:
			classes = append(classes, exp)
		default:
			other = append(other, exp)
		}
	}
	p.log().Debug("class package layout",
		"classes", len(classes),
		"defaults", len(defaults),
		"other", len(other))

	src := bytes.NewReader(data)
	size := int64(len(data))
	loadRoots := func(ctx context.Context, phase string, roots []*Export, resolve bool) error {
		err := batch.ForEach(ctx, r.group, roots, func(ctx context.Context, root *Export) error {
			rd := newObjectReader(p, src, size, resolve)
			for _, exp := range subtree(root) {
				if err := p.loadWith(ctx, exp, p.ObjectFor(exp), rd); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s phase: %w", phase, err)
		}
		return nil
	}

	p.resolveRefs.Store(false)
	if err := loadRoots(ctx, "classes", classes, false); err != nil {
		p.resolveRefs.Store(true)
		return err
	}

	var linkers []Linker
	for _, exp := range p.exports {
		if exp.className != metaClassName {
			continue
		}
		if l, ok := p.ObjectFor(exp).(Linker); ok {
			linkers = append(linkers, l)
		}
	}
	err := batch.ForEach(ctx, r.group, linkers, func(ctx context.Context, l Linker) error {
		return l.Link(ctx)
	})
	if err != nil {
		p.resolveRefs.Store(true)
		return fmt.Errorf("link phase: %w", err)
	}

	if err := loadRoots(ctx, "defaults", defaults, false); err != nil {
		p.resolveRefs.Store(true)
		return err
	}

	p.resolveRefs.Store(true)
	if err := loadRoots(ctx, "objects", other, true); err != nil {
		return err
	}

	r.applyToolTips(p)
	p.log().Info("class package loaded", "exports", len(p.exports))
	return nil
}

// applyToolTips copies ToolTip metadata onto the objects that accept it. The
// last MetaData export implementing MetaData is used.
func (r *Registry) applyToolTips(p *Package) {
	exps := p.byName[metaDataName]
	for i := len(exps) - 1; i >= 0; i-- {
		meta, ok := p.ObjectFor(exps[i]).(MetaData)
		if !ok {
			continue
		}
		n := 0
		for obj, values := range meta.ObjectMetaData() {
			text, ok := values[toolTipKey]
			if !ok {
				continue
			}
			if s, ok := obj.(ToolTipSetter); ok {
				s.SetToolTip(text)
				n++
			}
		}
		p.log().Debug("applied tooltips", "count", n)
		return
	}
}

// subtree returns root and every export below it, children before parents.
func subtree(root *Export) []*Export {
	type frame struct {
		exp  *Export
		next int
	}
	var out []*Export
	stack := []frame{{exp: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.exp.inner) {
			child := top.exp.inner[top.next]
			top.next++
			stack = append(stack, frame{exp: child})
			continue
		}
		out = append(out, top.exp)
		stack = stack[:len(stack)-1]
	}
	return out
}

// UnloadClassPackages releases the class packages and clears the class map
// and the core version.
func (r *Registry) UnloadClassPackages() {
	r.classMu.Lock()
	pkgs := r.classPkgs
	r.classPkgs = nil
	r.classes = make(map[string]Object)
	r.missing = make(map[string]struct{})
	r.coreVersion = 0
	r.coreSet = false
	r.classMu.Unlock()

	for _, p := range slices.Backward(pkgs) {
		r.Close(p)
	}
}

// ClassPackages returns the loaded class packages in load order.
func (r *Registry) ClassPackages() []*Package {
	r.classMu.Lock()
	defer r.classMu.Unlock()
	return slices.Clone(r.classPkgs)
}

// CoreVersion returns the file version of the core class package and
// whether one was loaded.
func (r *Registry) CoreVersion() (uint16, bool) {
	r.classMu.Lock()
	defer r.classMu.Unlock()
	return r.coreVersion, r.coreSet
}

// Class returns the class object registered under name, or nil.
func (r *Registry) Class(name string) Object {
	r.classMu.Lock()
	defer r.classMu.Unlock()
	return r.classes[name]
}

// ClassNames returns the registered class names in sorted order.
func (r *Registry) ClassNames() []string {
	r.classMu.Lock()
	defer r.classMu.Unlock()
	return slices.Sorted(maps.Keys(r.classes))
}

// addClass registers obj under name unless the name is taken.
func (r *Registry) addClass(name string, obj Object) {
	if obj == nil {
		return
	}
	r.classMu.Lock()
	defer r.classMu.Unlock()
	if _, ok := r.classes[name]; !ok {
		r.classes[name] = obj
	}
}

// missingClass logs a class that could not be loaded, once per name.
func (r *Registry) missingClass(name string) {
	r.classMu.Lock()
	_, seen := r.missing[name]
	r.missing[name] = struct{}{}
	r.classMu.Unlock()
	if !seen {
		r.log().Error("failed to load class", "class", name)
	}
}
