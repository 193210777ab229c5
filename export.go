package upkg

import (
	"strings"
	"sync/atomic"

	"github.com/meigma/upkg/internal/format"
)

// metaClassName is the class name of exports that define a type.
const metaClassName = "Class"

// defaultObjectPrefix marks class default objects by name.
const defaultObjectPrefix = "Default__"

// Export is an object defined inside a package.
//
// Exports are created while a package is parsed and are read-only once the
// package is ready. Virtual exports are synthesized by the loader and have
// no serialized payload.
type Export struct {
	pkg       *Package
	ref       ObjectRef
	rec       format.ExportRecord
	name      string
	className string
	outer     *Export
	inner     []*Export
	virtual   bool
	vobj      Object      // object of a virtual export
	loaded    atomic.Bool // set once the object was deserialized
}

// Package returns the package that owns the export.
func (e *Export) Package() *Package { return e.pkg }

// Ref returns the export's reference. Virtual exports return NullRef.
func (e *Export) Ref() ObjectRef { return e.ref }

// ObjectName returns the export's object name.
func (e *Export) ObjectName() string { return e.name }

// ClassName returns the name of the export's class. Exports with a null
// class reference are classes themselves.
func (e *Export) ClassName() string { return e.className }

// ClassRef returns the reference to the export's class.
func (e *Export) ClassRef() ObjectRef { return e.rec.Class }

// SuperRef returns the reference to the export's parent type.
func (e *Export) SuperRef() ObjectRef { return e.rec.Super }

// OuterRef returns the reference to the containing export.
func (e *Export) OuterRef() ObjectRef { return e.rec.Outer }

// ArchetypeRef returns the reference to the export's archetype.
func (e *Export) ArchetypeRef() ObjectRef { return e.rec.Archetype }

// Outer returns the containing export, or nil for root exports.
func (e *Export) Outer() *Export { return e.outer }

// Inner returns the exports directly contained by e.
func (e *Export) Inner() []*Export { return e.inner }

func (e *Export) ObjectFlags() uint64 { return e.rec.ObjectFlags }
func (e *Export) ExportFlags() uint32 { return e.rec.ExportFlags }
func (e *Export) SerialOffset() uint32 { return e.rec.SerialOffset }
func (e *Export) SerialSize() uint32 { return e.rec.SerialSize }
func (e *Export) Virtual() bool { return e.virtual }
func (e *Export) Record() format.ExportRecord { return e.rec }

// IsClassDefault reports whether e is a class default object.
func (e *Export) IsClassDefault() bool {
	return e.rec.ObjectFlags&format.ObjectClassDefaultObject != 0 || strings.HasPrefix(e.name, defaultObjectPrefix)
}

// Path returns the dotted path of e from its root export.
func (e *Export) Path() string {
	parts := []string{e.name}
	for o := e.outer; o != nil; o = o.outer {
		parts = append(parts, o.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// Import is a reference to an object defined in another package.
type Import struct {
	pkg          *Package
	ref          ObjectRef
	rec          format.ImportRecord
	classPackage string
	className    string
	name         string
	outer        *Import
	inner        []*Import
	object       Object // resolved object, guarded by pkg.objMu
}

// Package returns the package that declares the import.
func (i *Import) Package() *Package { return i.pkg }

// Ref returns the import's reference.
func (i *Import) Ref() ObjectRef { return i.ref }

// ObjectName returns the imported object's name.
func (i *Import) ObjectName() string { return i.name }

// ClassName returns the imported object's class name.
func (i *Import) ClassName() string { return i.className }

// ClassPackage returns the package that defines the imported object's class.
func (i *Import) ClassPackage() string { return i.classPackage }

// OuterRef returns the reference to the containing import.
func (i *Import) OuterRef() ObjectRef { return i.rec.Outer }

// Outer returns the containing import, or nil for root imports.
func (i *Import) Outer() *Import { return i.outer }

// Inner returns the imports directly contained by i.
func (i *Import) Inner() []*Import { return i.inner }

// PackageName returns the name of the package the import lives in: the
// object name of its outermost import.
func (i *Import) PackageName() string {
	root := i
	for root.outer != nil {
		root = root.outer
	}
	return root.name
}

// Path returns the dotted path of i from its root import.
func (i *Import) Path() string {
	parts := []string{i.name}
	for o := i.outer; o != nil; o = o.outer {
		parts = append(parts, o.name)
	}
	for a, b := 0, len(parts)-1; a < b; a, b = a+1, b-1 {
		parts[a], parts[b] = parts[b], parts[a]
	}
	return strings.Join(parts, ".")
}
