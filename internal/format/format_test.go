package format

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectRefSignConvention(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		index int32
		kind  RefKind
		slot  int
	}{
		{"null", 0, RefNull, 0},
		{"first export", 1, RefExport, 0},
		{"tenth export", 10, RefExport, 9},
		{"first import", -1, RefImport, 0},
		{"third import", -3, RefImport, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ref := RefFromIndex(tt.index)
			assert.Equal(t, tt.kind, ref.Kind())
			assert.Equal(t, tt.slot, ref.Slot())
			assert.Equal(t, tt.index, ref.PackageIndex())
		})
	}

	assert.Equal(t, int32(4), ExportRef(3).PackageIndex())
	assert.Equal(t, int32(-4), ImportRef(3).PackageIndex())
	assert.True(t, NullRef.IsNull())
}

func TestStringEncodings(t *testing.T) {
	t.Parallel()

	var w Writer
	w.PutString("")
	w.PutString("Core")
	w.PutString("Grüße")

	r := NewBytesReader(w.Bytes())
	s, err := r.String()
	require.NoError(t, err)
	assert.Empty(t, s)

	s, err = r.String()
	require.NoError(t, err)
	assert.Equal(t, "Core", s)

	s, err = r.String()
	require.NoError(t, err)
	assert.Equal(t, "Grüße", s)
	assert.Equal(t, r.Size(), r.Pos())
}

func TestReaderShortRead(t *testing.T) {
	t.Parallel()

	r := NewBytesReader([]byte{1, 2, 3})
	_, err := r.Uint32()
	require.ErrorIs(t, err, ErrFormat)

	var w Writer
	w.PutInt32(1 << 30)
	_, err = NewBytesReader(w.Bytes()).String()
	require.ErrorIs(t, err, ErrFormat)
}

func TestReaderSeekTo(t *testing.T) {
	t.Parallel()

	r := NewBytesReader([]byte{1, 0, 0, 0, 2, 0, 0, 0})
	require.NoError(t, r.SeekTo(4))
	v, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v)
	assert.Equal(t, int64(8), r.Pos())

	require.NoError(t, r.SeekTo(8))
	require.ErrorIs(t, r.SeekTo(9), ErrFormat)
	require.ErrorIs(t, r.SeekTo(-1), ErrFormat)
	assert.Equal(t, int64(8), r.Pos())
}

func TestSummaryRoundTrip(t *testing.T) {
	t.Parallel()

	in := &Summary{
		FileVersion:        610,
		LicenseeVersion:    14,
		HeaderSize:         512,
		FolderName:         "None",
		PackageFlags:       PackageCooked,
		NamesCount:         3,
		NamesOffset:        200,
		ExportsCount:       2,
		ExportsOffset:      300,
		ImportsCount:       1,
		ImportsOffset:      250,
		DependsOffset:      400,
		GUID:               uuid.New(),
		Generations:        []Generation{{Exports: 2, Names: 3, NetObjects: 0}},
		CompressionFlags:   CompressZlib,
		CompressedChunks:   []CompressedChunk{{DecompressedOffset: 512, DecompressedSize: 100, CompressedOffset: 400, CompressedSize: 60}},
		AdditionalPackages: []string{"Engine"},
	}
	var w Writer
	WriteSummary(&w, in)

	out, err := ReadSummary(NewBytesReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, out.Compressed())
}

func TestSummaryRejectsBadTag(t *testing.T) {
	t.Parallel()

	var w Writer
	w.PutUint32(0xDEADBEEF)
	_, err := ReadSummary(NewBytesReader(w.Bytes()))
	require.ErrorIs(t, err, ErrFormat)
}

func TestNameResolve(t *testing.T) {
	t.Parallel()

	names := []NameEntry{{Text: "None"}, {Text: "Mesh"}}
	s, err := Name{Index: 1}.Resolve(names)
	require.NoError(t, err)
	assert.Equal(t, "Mesh", s)

	s, err = Name{Index: 1, Number: 3}.Resolve(names)
	require.NoError(t, err)
	assert.Equal(t, "Mesh_2", s)

	_, err = Name{Index: 5}.Resolve(names)
	require.ErrorIs(t, err, ErrFormat)
}
