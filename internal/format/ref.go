package format

import (
	"fmt"
	"math"
)

// RefKind identifies what an ObjectRef points at.
type RefKind uint8

const (
	RefNull RefKind = iota
	RefExport
	RefImport
)

// ObjectRef is a reference to an object inside one package.
//
// On disk references are signed integers: positive values are 1-based export
// slots, negative values are imports (-1 is import 0) and zero is null. The
// signed encoding is only produced and consumed at the binary boundary via
// RefFromIndex and PackageIndex.
type ObjectRef struct {
	kind RefKind
	slot uint32
}

// NullRef is the reference to no object.
var NullRef = ObjectRef{}

// ExportRef returns a reference to the export at the 0-based slot.
func ExportRef(slot int) ObjectRef {
	return ObjectRef{kind: RefExport, slot: uint32(slot)} //nolint:gosec // table sizes are bounded at parse time
}

// ImportRef returns a reference to the import at the 0-based slot.
func ImportRef(slot int) ObjectRef {
	return ObjectRef{kind: RefImport, slot: uint32(slot)} //nolint:gosec // table sizes are bounded at parse time
}

// RefFromIndex decodes a signed on-disk object index.
func RefFromIndex(v int32) ObjectRef {
	switch {
	case v > 0:
		return ObjectRef{kind: RefExport, slot: uint32(v - 1)}
	case v < 0:
		return ObjectRef{kind: RefImport, slot: uint32(-(v + 1))}
	default:
		return NullRef
	}
}

// PackageIndex encodes the reference as a signed on-disk object index.
func (r ObjectRef) PackageIndex() int32 {
	switch r.kind {
	case RefExport:
		if r.slot >= math.MaxInt32 {
			return 0
		}
		return int32(r.slot) + 1
	case RefImport:
		if r.slot >= math.MaxInt32 {
			return 0
		}
		return -int32(r.slot) - 1
	default:
		return 0
	}
}

// Kind returns the reference kind.
func (r ObjectRef) Kind() RefKind { return r.kind }

// Slot returns the 0-based table position of an export or import reference.
func (r ObjectRef) Slot() int { return int(r.slot) }

func (r ObjectRef) IsNull() bool   { return r.kind == RefNull }
func (r ObjectRef) IsExport() bool { return r.kind == RefExport }
func (r ObjectRef) IsImport() bool { return r.kind == RefImport }

// String renders the reference the way it is stored on disk.
func (r ObjectRef) String() string {
	switch r.kind {
	case RefExport:
		return fmt.Sprintf("export(%d)", r.slot+1)
	case RefImport:
		return fmt.Sprintf("import(%d)", -int64(r.slot)-1)
	default:
		return "null"
	}
}
