package upkg

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/meigma/upkg/internal/format"
)

// Object is a constructed export.
type Object interface {
	Export() *Export
}

// Factory constructs the object for an export. It is called at most once per
// export while the package's object lock is held, so it must not block or
// call back into the package.
type Factory func(exp *Export) Object

// Loader is implemented by objects that deserialize their payload.
// r is positioned at the export's serial offset.
type Loader interface {
	Load(ctx context.Context, r *ObjectReader) error
}

// Linker is implemented by class objects that resolve their field layout
// after every class of the package was deserialized.
type Linker interface {
	Link(ctx context.Context) error
}

// MetaData is implemented by the metadata object of a class package. It maps
// objects to their key/value metadata.
type MetaData interface {
	ObjectMetaData() map[Object]map[string]string
}

// ToolTipSetter is implemented by field objects that accept a tooltip.
type ToolTipSetter interface {
	SetToolTip(text string)
}

// DefaultFactory creates a RawObject for every export.
func DefaultFactory(exp *Export) Object {
	return &RawObject{exp: exp}
}

// RawObject keeps an export's serialized payload without interpreting it.
type RawObject struct {
	exp *Export

	mu      sync.Mutex
	data    []byte
	tooltip string
}

// Export implements Object.
func (o *RawObject) Export() *Export { return o.exp }

// Load implements Loader by reading the export's serial range.
func (o *RawObject) Load(_ context.Context, r *ObjectReader) error {
	data, err := r.Bytes(int(o.exp.SerialSize()))
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.data = data
	o.mu.Unlock()
	return nil
}

// Data returns the payload read by Load.
func (o *RawObject) Data() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.data
}

// SetToolTip implements ToolTipSetter.
func (o *RawObject) SetToolTip(text string) {
	o.mu.Lock()
	o.tooltip = text
	o.mu.Unlock()
}

// ToolTip returns the tooltip attached by the class loader.
func (o *RawObject) ToolTip() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tooltip
}

// ObjectReader is a positioned cursor over a package's data used while
// deserializing one object or one subtree of objects.
//
// An ObjectReader is not safe for concurrent use. Readers over the same
// source can be used in parallel.
type ObjectReader struct {
	*format.Reader
	pkg     *Package
	exp     *Export
	resolve bool
}

func newObjectReader(p *Package, src io.ReaderAt, size int64, resolve bool) *ObjectReader {
	return &ObjectReader{
		Reader:  format.NewReader(src, size),
		pkg:     p,
		resolve: resolve,
	}
}

// Package returns the package being read.
func (r *ObjectReader) Package() *Package { return r.pkg }

// Export returns the export currently being deserialized.
func (r *ObjectReader) Export() *Export { return r.exp }

// Resolving reports whether references read through r load their targets.
func (r *ObjectReader) Resolving() bool {
	return r.resolve && r.pkg.resolveRefs.Load()
}

// SerialEnd returns the offset just past the current export's payload.
func (r *ObjectReader) SerialEnd() int64 {
	if r.exp == nil {
		return r.Size()
	}
	return int64(r.exp.SerialOffset()) + int64(r.exp.SerialSize())
}

// ReadName reads a name reference and renders it against the names table.
func (r *ObjectReader) ReadName() (string, error) {
	n, err := format.ReadName(r.Reader)
	if err != nil {
		return "", err
	}
	return r.pkg.nameOf(n)
}

// ReadObject reads an object reference and returns its object. Referenced
// exports are constructed but only deserialized while Resolving is true.
// Unresolvable imports yield a nil object.
func (r *ObjectReader) ReadObject(ctx context.Context) (Object, error) {
	ref, err := r.Ref()
	if err != nil {
		return nil, err
	}
	return r.pkg.GetObject(ctx, ref, r.Resolving())
}

// begin positions r at the payload of exp.
func (r *ObjectReader) begin(exp *Export) error {
	end := int64(exp.SerialOffset()) + int64(exp.SerialSize())
	if end > r.Size() {
		return fmt.Errorf("%w: %s payload %d+%d outside %d bytes", ErrFormat, exp.ObjectName(), exp.SerialOffset(), exp.SerialSize(), r.Size())
	}
	r.exp = exp
	return r.SeekTo(int64(exp.SerialOffset()))
}
