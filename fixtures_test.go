package upkg

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meigma/upkg/internal/format"
	"github.com/meigma/upkg/internal/testutil"
)

var (
	engineGUID = uuid.MustParse("6f1d2c3b-0000-4000-8000-000000000001")
	coreGUID   = uuid.MustParse("6f1d2c3b-0000-4000-8000-000000000002")
)

// enginePackage has a class with one member, its default object and an
// object of an imported class.
//
//	exports: 0 Actor (Class), 1 Location in Actor, 2 Default__Actor, 3 Mesh
//	imports: 0 Core (Package), 1 Object in Core, 2 Texture2D in Core
func enginePackage() *testutil.Package {
	return &testutil.Package{
		FileVersion:     610,
		LicenseeVersion: 14,
		GUID:            engineGUID,
		Imports: []testutil.Import{
			{ClassPackage: "Core", ClassName: "Package", Name: "Core"},
			{ClassPackage: "Core", ClassName: "Class", Name: "Object", Outer: ImportRef(0)},
			{ClassPackage: "Core", ClassName: "Class", Name: "Texture2D", Outer: ImportRef(0)},
		},
		Exports: []testutil.Export{
			{Name: "Actor", Super: ImportRef(1), Data: []byte("actor")},
			{Name: "Location", Class: ImportRef(1), Outer: ExportRef(0), Data: []byte("loc")},
			{Name: "Default__Actor", Class: ExportRef(0), Flags: format.ObjectClassDefaultObject, Data: []byte("cdo")},
			{Name: "Mesh", Class: ImportRef(2), Data: []byte("mesh-data")},
		},
		Depends: [][]ObjectRef{nil, {ExportRef(0)}, {ExportRef(0), ImportRef(1)}},
	}
}

// corePackage defines the classes engine imports.
func corePackage() *testutil.Package {
	return &testutil.Package{
		FileVersion:     610,
		LicenseeVersion: 14,
		GUID:            coreGUID,
		Exports: []testutil.Export{
			{Name: "Object", Data: []byte("object")},
			{Name: "Texture2D", Super: ExportRef(0), Data: []byte("texture")},
		},
	}
}

// newTestRegistry returns a registry over root that is shut down when the
// test ends.
func newTestRegistry(t *testing.T, root string, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithTempDir(t.TempDir())}, opts...)
	r := New(root, opts...)
	t.Cleanup(r.Shutdown)
	return r
}

// openLoaded opens and loads the package at path.
func openLoaded(t *testing.T, r *Registry, path string) *Package {
	t.Helper()
	p, err := r.Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, p.Load(context.Background()))
	return p
}

// writeEngine writes the engine package to root and returns its path.
func writeEngine(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(root, "Engine.upk")
	enginePackage().Write(t, path)
	return path
}

// recorder collects events from test objects.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// index returns the position of event, or -1.
func (r *recorder) index(event string) int {
	return slices.Index(r.list(), event)
}

// testObject records how it was loaded and linked.
type testObject struct {
	exp *Export
	rec *recorder

	mu        sync.Mutex
	data      []byte
	resolving bool
	tooltip   string
}

func (o *testObject) Export() *Export { return o.exp }

func (o *testObject) Load(_ context.Context, r *ObjectReader) error {
	data, err := r.Bytes(int(o.exp.SerialSize()))
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.data = data
	o.resolving = r.Resolving()
	o.mu.Unlock()
	o.rec.add("load:" + o.exp.ObjectName())
	return nil
}

func (o *testObject) Link(context.Context) error {
	o.rec.add("link:" + o.exp.ObjectName())
	return nil
}

func (o *testObject) SetToolTip(text string) {
	o.mu.Lock()
	o.tooltip = text
	o.mu.Unlock()
}

func (o *testObject) state() (data []byte, resolving bool, tooltip string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.data, o.resolving, o.tooltip
}

// testMeta reads pairs of object reference and tooltip text.
type testMeta struct {
	exp *Export
	rec *recorder

	mu     sync.Mutex
	values map[Object]map[string]string
}

func (m *testMeta) Export() *Export { return m.exp }

func (m *testMeta) Load(ctx context.Context, r *ObjectReader) error {
	values := make(map[Object]map[string]string)
	for r.Pos() < r.SerialEnd() {
		obj, err := r.ReadObject(ctx)
		if err != nil {
			return err
		}
		text, err := r.String()
		if err != nil {
			return err
		}
		if obj != nil {
			values[obj] = map[string]string{toolTipKey: text}
		}
	}
	m.mu.Lock()
	m.values = values
	m.mu.Unlock()
	m.rec.add("load:" + m.exp.ObjectName())
	return nil
}

func (m *testMeta) ObjectMetaData() map[Object]map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values
}

// testFactory builds testObjects, and testMeta for MetaData exports.
func testFactory(rec *recorder) Factory {
	return func(exp *Export) Object {
		if exp.ClassName() == metaDataName {
			return &testMeta{exp: exp, rec: rec}
		}
		return &testObject{exp: exp, rec: rec}
	}
}
