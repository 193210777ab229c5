package upkg

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/upkg/internal/format"
	"github.com/meigma/upkg/internal/testutil"
)

func TestGetObjectSameInstance(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	r := newTestRegistry(t, root)
	p := openLoaded(t, r, writeEngine(t, root))
	ctx := context.Background()

	a, err := p.GetObject(ctx, ExportRef(0), false)
	require.NoError(t, err)
	b, err := p.GetObject(ctx, ExportRef(0), true)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, a, p.ObjectFor(p.Exports()[0]))
	assert.Equal(t, []byte("actor"), a.(*RawObject).Data())

	ref, err := p.ObjectIndex(a)
	require.NoError(t, err)
	assert.Equal(t, ExportRef(0), ref)
}

func TestGetObjectConcurrent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	r := newTestRegistry(t, root)
	p := openLoaded(t, r, writeEngine(t, root))

	const n = 16
	objs := make([]Object, n)
	done := make(chan struct{})
	for i := range n {
		go func() {
			defer func() { done <- struct{}{} }()
			obj, err := p.GetObject(context.Background(), ExportRef(3), true)
			assert.NoError(t, err)
			objs[i] = obj
		}()
	}
	for range n {
		<-done
	}
	for _, obj := range objs {
		assert.Same(t, objs[0], obj)
	}
	assert.Equal(t, []byte("mesh-data"), objs[0].(*RawObject).Data())
}

func TestGetObjectEdgeCases(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	r := newTestRegistry(t, root)
	ctx := context.Background()
	p, err := r.Open(ctx, writeEngine(t, root))
	require.NoError(t, err)

	_, err = p.GetObject(ctx, ExportRef(0), false)
	require.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, p.Load(ctx))
	obj, err := p.GetObject(ctx, NullRef, true)
	require.NoError(t, err)
	assert.Nil(t, obj)

	_, err = p.GetObject(ctx, ExportRef(40), false)
	require.ErrorIs(t, err, ErrFormat)
	_, err = p.GetObject(ctx, ImportRef(40), false)
	require.ErrorIs(t, err, ErrFormat)
}

func TestResolveForeignImport(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeEngine(t, root)
	corePackage().Write(t, filepath.Join(root, "Core.u"))
	r := newTestRegistry(t, root)
	ctx := context.Background()

	p, err := r.OpenNamed(ctx, "Engine", engineGUID)
	require.NoError(t, err)
	require.NoError(t, p.Load(ctx))

	obj, err := p.GetObject(ctx, ImportRef(1), true)
	require.NoError(t, err)
	require.NotNil(t, obj)
	exp := obj.Export()
	assert.Equal(t, "Object", exp.ObjectName())
	assert.Equal(t, "Core.u", exp.Package().Name())
	assert.Equal(t, []byte("object"), obj.(*RawObject).Data())

	externals := p.Externals()
	require.Len(t, externals, 1)
	core := externals[0]
	assert.Same(t, exp.Package(), core)

	ref, err := p.ObjectIndex(obj)
	require.NoError(t, err)
	assert.Equal(t, ImportRef(1), ref)

	// A second import from the same package reuses the external.
	tex, err := p.GetObject(ctx, ImportRef(2), false)
	require.NoError(t, err)
	require.NotNil(t, tex)
	assert.Equal(t, "Texture2D", tex.Export().ObjectName())
	assert.Len(t, p.Externals(), 1)

	again, err := p.GetObject(ctx, ImportRef(1), false)
	require.NoError(t, err)
	assert.Same(t, obj, again)

	// The package import itself has no object.
	pkgObj, err := p.GetObject(ctx, ImportRef(0), false)
	require.NoError(t, err)
	assert.Nil(t, pkgObj)
	assert.Len(t, p.Externals(), 1)

	require.Len(t, r.Loaded(), 2)
	r.Close(p)
	assert.Empty(t, r.Loaded(), "closing engine releases core")
	assert.False(t, core.Ready())
}

// linkedObject loads a reference to another object.
type linkedObject struct {
	exp  *Export
	mu   sync.Mutex
	peer Object
}

func (o *linkedObject) Export() *Export { return o.exp }

func (o *linkedObject) Load(ctx context.Context, r *ObjectReader) error {
	peer, err := r.ReadObject(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.peer = peer
	o.mu.Unlock()
	return nil
}

func (o *linkedObject) linked() Object {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peer
}

// writeLinked writes a package whose single export references the export
// other.target of another package.
func writeLinked(t *testing.T, path, name, other, target string) {
	t.Helper()
	var w format.Writer
	w.PutRef(ImportRef(1))
	(&testutil.Package{
		Imports: []testutil.Import{
			{ClassPackage: "Core", ClassName: "Package", Name: other},
			{ClassPackage: "Core", ClassName: metaClassName, Name: target, Outer: ImportRef(0)},
		},
		Exports: []testutil.Export{
			{Name: name, Data: w.Bytes()},
		},
	}).Write(t, path)
}

func TestResolveMutualImports(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeLinked(t, filepath.Join(root, "A.upk"), "AThing", "B", "BThing")
	writeLinked(t, filepath.Join(root, "B.upk"), "BThing", "A", "AThing")
	r := newTestRegistry(t, root, WithFactory(func(exp *Export) Object {
		return &linkedObject{exp: exp}
	}))
	ctx := context.Background()

	a, err := r.OpenNamed(ctx, "A", uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, a.Load(ctx))

	type result struct {
		obj Object
		err error
	}
	done := make(chan result, 1)
	go func() {
		obj, err := a.GetObject(ctx, ExportRef(0), true)
		done <- result{obj, err}
	}()
	var res result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("loading a cycle of imports did not finish")
	}
	require.NoError(t, res.err)

	aThing := res.obj.(*linkedObject)
	bThing, ok := aThing.linked().(*linkedObject)
	require.True(t, ok)
	assert.Equal(t, "BThing", bThing.Export().ObjectName())
	assert.Equal(t, "B.upk", bThing.Export().Package().Name())
	assert.Same(t, aThing, bThing.linked(), "the cycle closes on the same instance")

	// Each package keeps the other as an external.
	r.Close(a)
	assert.Len(t, r.Loaded(), 2)
	assert.True(t, a.Ready())
	r.Shutdown()
	assert.Empty(t, r.Loaded())
}

func TestResolveUnresolvedImport(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "Lonely.upk")
	(&testutil.Package{
		Imports: []testutil.Import{
			{ClassPackage: "Core", ClassName: "Package", Name: "Nowhere"},
			{ClassPackage: "Core", ClassName: "Class", Name: "Ghost", Outer: ImportRef(0)},
		},
	}).Write(t, path)
	corePackage().Write(t, filepath.Join(root, "Core.u"))
	r := newTestRegistry(t, root)
	p := openLoaded(t, r, path)
	ctx := context.Background()

	obj, err := p.GetObject(ctx, ImportRef(1), true)
	require.NoError(t, err)
	assert.Nil(t, obj)
	assert.Empty(t, p.Externals())
	assert.InDelta(t, 1, promtest.ToFloat64(r.metrics.unresolved), 0)

	_, err = p.ObjectIndex(&RawObject{exp: &Export{name: "Ghost"}})
	require.ErrorIs(t, err, ErrUnresolved)
}

func TestResolveForeignImportMissingObjectReleasesPackage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "Game.upk")
	(&testutil.Package{
		Imports: []testutil.Import{
			{ClassPackage: "Core", ClassName: "Package", Name: "Core"},
			{ClassPackage: "Core", ClassName: "Class", Name: "Missing", Outer: ImportRef(0)},
		},
	}).Write(t, path)
	corePackage().Write(t, filepath.Join(root, "Core.u"))
	r := newTestRegistry(t, root)
	p := openLoaded(t, r, path)

	obj, err := p.GetObject(context.Background(), ImportRef(1), false)
	require.NoError(t, err)
	assert.Nil(t, obj)
	assert.Empty(t, p.Externals())
	assert.Len(t, r.Loaded(), 1, "core is released after the failed lookup")
}

func TestResolveLocalImport(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "Self.upk")
	(&testutil.Package{
		Imports: []testutil.Import{
			{ClassPackage: "Core", ClassName: "Package", Name: "Self"},
			{ClassPackage: "Core", ClassName: "Class", Name: "Widget", Outer: ImportRef(0)},
			{ClassPackage: "Core", ClassName: "Class", Name: "Builtin", Outer: ImportRef(0)},
		},
		Exports: []testutil.Export{
			{Name: "Widget", Data: []byte("w")},
		},
	}).Write(t, path)
	r := newTestRegistry(t, root)
	p := openLoaded(t, r, path)
	ctx := context.Background()

	obj, err := p.GetObject(ctx, ImportRef(1), false)
	require.NoError(t, err)
	assert.Same(t, p.ObjectFor(p.Exports()[0]), obj)
	assert.Empty(t, p.Externals())

	builtin, err := p.GetObject(ctx, ImportRef(2), false)
	require.NoError(t, err)
	assert.Nil(t, builtin)

	vexp := p.CreateVirtualExport("Builtin", "Class")
	assert.True(t, vexp.Virtual())
	assert.Same(t, vexp, p.CreateVirtualExport("Builtin", "Class"))
	assert.Equal(t, []*Export{vexp}, p.ExportsNamed("Builtin"))

	builtin, err = p.GetObject(ctx, ImportRef(2), false)
	require.NoError(t, err)
	assert.Same(t, p.ObjectFor(vexp), builtin)
}

func TestLoadClass(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeEngine(t, root)
	corePackage().Write(t, filepath.Join(root, "Core.u"))
	r := newTestRegistry(t, root)
	ctx := context.Background()
	p, err := r.OpenNamed(ctx, "Engine", engineGUID)
	require.NoError(t, err)
	require.NoError(t, p.Load(ctx))

	actor := p.LoadClass(ctx, ExportRef(0))
	require.NotNil(t, actor)
	assert.Same(t, actor, r.Class("Actor"))

	object := p.LoadClass(ctx, ImportRef(1))
	require.NotNil(t, object)
	assert.Same(t, object, r.Class("Object"))
	assert.Equal(t, "Core.u", object.Export().Package().Name())

	assert.Nil(t, p.LoadClass(ctx, NullRef))
	assert.Nil(t, p.LoadClass(ctx, ImportRef(0)))
	assert.Nil(t, p.LoadClass(ctx, ImportRef(0)))
	r.classMu.Lock()
	_, missing := r.missing["Core"]
	r.classMu.Unlock()
	assert.True(t, missing)
}
