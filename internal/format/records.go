package format

import (
	"fmt"

	"github.com/google/uuid"
)

const maxDepends = 1 << 20

// NameEntry is one element of the names table.
type NameEntry struct {
	Text  string
	Flags uint64
}

// Name references a names-table entry. A non-zero Number renders as a
// "_N-1" suffix on the entry text.
type Name struct {
	Index  int32
	Number int32
}

// ImportRecord is the on-disk form of an import.
type ImportRecord struct {
	ClassPackage Name
	ClassName    Name
	Outer        ObjectRef
	ObjectName   Name
}

// ExportRecord is the on-disk form of an export.
type ExportRecord struct {
	Class        ObjectRef
	Super        ObjectRef
	Outer        ObjectRef
	ObjectName   Name
	Archetype    ObjectRef
	ObjectFlags  uint64
	SerialSize   uint32
	SerialOffset uint32
	ExportFlags  uint32
	NetObjects   []int32
	PackageGUID  uuid.UUID
	PackageFlags uint32
}

func ReadNameEntry(r *Reader) (NameEntry, error) {
	var e NameEntry
	var err error
	if e.Text, err = r.String(); err != nil {
		return e, err
	}
	e.Flags, err = r.Uint64()
	return e, err
}

func WriteNameEntry(w *Writer, e NameEntry) {
	w.PutString(e.Text)
	w.PutUint64(e.Flags)
}

func ReadName(r *Reader) (Name, error) {
	var n Name
	var err error
	if n.Index, err = r.Int32(); err != nil {
		return n, err
	}
	n.Number, err = r.Int32()
	return n, err
}

func WriteName(w *Writer, n Name) {
	w.PutInt32(n.Index)
	w.PutInt32(n.Number)
}

func ReadImport(r *Reader) (ImportRecord, error) {
	var rec ImportRecord
	var err error
	if rec.ClassPackage, err = ReadName(r); err != nil {
		return rec, err
	}
	if rec.ClassName, err = ReadName(r); err != nil {
		return rec, err
	}
	if rec.Outer, err = r.Ref(); err != nil {
		return rec, err
	}
	rec.ObjectName, err = ReadName(r)
	return rec, err
}

func WriteImport(w *Writer, rec ImportRecord) {
	WriteName(w, rec.ClassPackage)
	WriteName(w, rec.ClassName)
	w.PutRef(rec.Outer)
	WriteName(w, rec.ObjectName)
}

func ReadExport(r *Reader) (ExportRecord, error) {
	var rec ExportRecord
	var err error
	for _, ref := range []*ObjectRef{&rec.Class, &rec.Super, &rec.Outer} {
		if *ref, err = r.Ref(); err != nil {
			return rec, err
		}
	}
	if rec.ObjectName, err = ReadName(r); err != nil {
		return rec, err
	}
	if rec.Archetype, err = r.Ref(); err != nil {
		return rec, err
	}
	if rec.ObjectFlags, err = r.Uint64(); err != nil {
		return rec, err
	}
	if rec.SerialSize, err = r.Uint32(); err != nil {
		return rec, err
	}
	if rec.SerialOffset, err = r.Uint32(); err != nil {
		return rec, err
	}
	if rec.ExportFlags, err = r.Uint32(); err != nil {
		return rec, err
	}
	n, err := r.Count(maxDepends)
	if err != nil {
		return rec, err
	}
	if n > 0 {
		rec.NetObjects = make([]int32, n)
	}
	for i := range rec.NetObjects {
		if rec.NetObjects[i], err = r.Int32(); err != nil {
			return rec, err
		}
	}
	if rec.PackageGUID, err = r.GUID(); err != nil {
		return rec, err
	}
	rec.PackageFlags, err = r.Uint32()
	return rec, err
}

func WriteExport(w *Writer, rec ExportRecord) {
	w.PutRef(rec.Class)
	w.PutRef(rec.Super)
	w.PutRef(rec.Outer)
	WriteName(w, rec.ObjectName)
	w.PutRef(rec.Archetype)
	w.PutUint64(rec.ObjectFlags)
	w.PutUint32(rec.SerialSize)
	w.PutUint32(rec.SerialOffset)
	w.PutUint32(rec.ExportFlags)
	w.PutUint32(uint32(len(rec.NetObjects))) //nolint:gosec // bounded on read
	for _, v := range rec.NetObjects {
		w.PutInt32(v)
	}
	w.PutGUID(rec.PackageGUID)
	w.PutUint32(rec.PackageFlags)
}

// ReadDepends reads one export's list of referenced object indices.
func ReadDepends(r *Reader) ([]ObjectRef, error) {
	n, err := r.Count(maxDepends)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]ObjectRef, n)
	for i := range out {
		if out[i], err = r.Ref(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func WriteDepends(w *Writer, refs []ObjectRef) {
	w.PutUint32(uint32(len(refs))) //nolint:gosec // bounded on read
	for _, ref := range refs {
		w.PutRef(ref)
	}
}

// Resolve renders n against the names table.
func (n Name) Resolve(names []NameEntry) (string, error) {
	if n.Index < 0 || int(n.Index) >= len(names) {
		return "", fmt.Errorf("%w: name index %d outside table of %d", ErrFormat, n.Index, len(names))
	}
	text := names[n.Index].Text
	if n.Number > 0 {
		return fmt.Sprintf("%s_%d", text, n.Number-1), nil
	}
	return text, nil
}
