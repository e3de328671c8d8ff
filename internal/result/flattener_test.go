package result

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
)

func newTestFlattener() *Flattener {
	f := NewFlattener(zap.NewNop().Sugar(), "sun.management.MemoryImpl", "java.lang", "", "type=Memory")
	f.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return f
}

func gcRow(pool string, used int64) jmx.Row {
	return jmx.Row{
		Key:   jmx.Array{Elems: []jmx.Value{jmx.Scalar{V: pool}}},
		Value: jmx.Composite{Fields: []jmx.Field{{Name: "used", Value: jmx.Scalar{V: used}}}},
	}
}

func TestFlatten_Scalar(t *testing.T) {
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "Verbose", Value: jmx.Scalar{V: true}}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "Verbose", r.AttributeName())
	assert.Equal(t, []Entry{{Key: "Verbose", Value: true}}, r.Values())
	assert.Equal(t, "sun.management.MemoryImpl", r.ClassName())
	assert.Equal(t, "java.lang", r.ObjDomain())
	assert.Equal(t, "type=Memory", r.TypeName())
	assert.Equal(t, int64(1700000000000), r.Epoch())
}

func TestFlatten_Null(t *testing.T) {
	results, err := newTestFlattener().Flatten([]jmx.Attribute{
		{Name: "A", Value: jmx.Null{}},
		{Name: "B", Value: nil},
		{Name: "C", Value: jmx.Scalar{}},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFlatten_ArrayIndexing(t *testing.T) {
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{
		Name:  "X",
		Value: jmx.Array{Elems: []jmx.Value{jmx.Scalar{V: "a"}, jmx.Scalar{V: "b"}, jmx.Scalar{V: "c"}}},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "X", results[0].AttributeName())
	assert.Equal(t, []Entry{{"X.0", "a"}, {"X.1", "b"}, {"X.2", "c"}}, results[0].Values())
}

func TestFlatten_ByteArrayIndexing(t *testing.T) {
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "Digest", Value: jmx.FromGo([]byte{0x0a, 0xff})}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []Entry{{"Digest.0", uint8(0x0a)}, {"Digest.1", uint8(0xff)}}, results[0].Values())
}

func TestFlatten_EmptyArrayEmitsNothing(t *testing.T) {
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "X", Value: jmx.Array{}}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFlatten_TabularNaming(t *testing.T) {
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{
		Name:  "LastGcInfo",
		Value: jmx.Tabular{Rows: []jmx.Row{gcRow("Par Survivor Space", 123)}},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "LastGcInfo.Par Survivor Space", results[0].AttributeName())
	assert.Equal(t, []Entry{{"used", int64(123)}}, results[0].Values())
}

func TestFlatten_TabularMultiPartKey(t *testing.T) {
	row := jmx.Row{
		Key:   jmx.Array{Elems: []jmx.Value{jmx.Scalar{V: "a"}, jmx.Scalar{V: 2}}},
		Value: jmx.Composite{Fields: []jmx.Field{{Name: "v", Value: jmx.Scalar{V: 1.5}}}},
	}
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "T", Value: jmx.Tabular{Rows: []jmx.Row{row}}}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "T.a.2", results[0].AttributeName())
}

func TestFlatten_TabularInsideComposite(t *testing.T) {
	value := jmx.Composite{Fields: []jmx.Field{
		{Name: "duration", Value: jmx.Scalar{V: int64(7)}},
		{Name: "memoryUsageAfterGc", Value: jmx.Tabular{Rows: []jmx.Row{gcRow("Eden", 1), gcRow("Old", 2)}}},
	}}
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "LastGcInfo", Value: value}})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "LastGcInfo.memoryUsageAfterGc.Eden", results[0].AttributeName())
	assert.Equal(t, "LastGcInfo.memoryUsageAfterGc.Old", results[1].AttributeName())
	assert.Equal(t, "LastGcInfo", results[2].AttributeName())
	assert.Equal(t, []Entry{{"duration", int64(7)}}, results[2].Values())
}

func TestFlatten_CompositePassThrough(t *testing.T) {
	value := jmx.Composite{Fields: []jmx.Field{
		{Name: "inner", Value: jmx.Composite{Fields: []jmx.Field{{Name: "x", Value: jmx.Scalar{V: 5}}}}},
	}}
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "Outer", Value: value}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Outer", results[0].AttributeName())
	assert.Equal(t, []Entry{{"x", 5}}, results[0].Values())
}

func TestFlatten_CompositeScalars(t *testing.T) {
	value := jmx.Composite{Fields: []jmx.Field{
		{Name: "committed", Value: jmx.Scalar{V: int64(10)}},
		{Name: "init", Value: jmx.Null{}},
		{Name: "used", Value: jmx.Scalar{V: int64(4)}},
		{Name: "sizes", Value: jmx.Array{Elems: []jmx.Value{jmx.Scalar{V: 1}, jmx.Scalar{V: 2}}}},
	}}
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "HeapMemoryUsage", Value: value}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []Entry{
		{"committed", int64(10)},
		{"used", int64(4)},
		{"sizes.0", 1},
		{"sizes.1", 2},
	}, results[0].Values())
}

func TestFlatten_ArrayOfComposites(t *testing.T) {
	value := jmx.Array{Elems: []jmx.Value{
		jmx.Composite{Fields: []jmx.Field{{Name: "a", Value: jmx.Scalar{V: 1}}}},
		jmx.Null{},
		jmx.Composite{Fields: []jmx.Field{{Name: "a", Value: jmx.Scalar{V: 2}}}},
	}}
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "Infos", Value: value}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []Entry{{"a", 1}}, results[0].Values())
	assert.Equal(t, []Entry{{"a", 2}}, results[1].Values())
}

func TestFlatten_ObjectRefArray(t *testing.T) {
	value := jmx.ObjectRefArray{Names: []jmx.ObjectName{
		jmx.MustParseObjectName("java.lang:type=MemoryPool,name=Eden"),
	}}
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "Pools", Value: value}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []Entry{{"java.lang:name=Eden,type=MemoryPool", "type=MemoryPool,name=Eden"}}, results[0].Values())
}

func TestFlatten_Mapping(t *testing.T) {
	value := jmx.Mapping{Entries: []jmx.Entry{
		{Key: jmx.Scalar{V: 1}, Value: jmx.Scalar{V: "one"}},
		{Key: jmx.Scalar{V: "two"}, Value: jmx.Scalar{V: 2.0}},
		{Key: jmx.Scalar{V: "1"}, Value: jmx.Scalar{V: "uno"}},
	}}
	results, err := newTestFlattener().Flatten([]jmx.Attribute{{Name: "Props", Value: value}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []Entry{{"1", "uno"}, {"two", 2.0}}, results[0].Values())
}

func TestFlatten_ShapeErrors(t *testing.T) {
	tests := []struct {
		name  string
		value jmx.Value
	}{
		{
			name: "row value not composite",
			value: jmx.Tabular{Rows: []jmx.Row{{
				Key:   jmx.Array{Elems: []jmx.Value{jmx.Scalar{V: "k"}}},
				Value: jmx.Scalar{V: 1},
			}}},
		},
		{
			name:  "row key not a list",
			value: jmx.Tabular{Rows: []jmx.Row{{Key: jmx.Scalar{V: "k"}, Value: jmx.Composite{}}}},
		},
		{
			name: "row key part not scalar",
			value: jmx.Tabular{Rows: []jmx.Row{{
				Key:   jmx.Array{Elems: []jmx.Value{jmx.Composite{}}},
				Value: jmx.Composite{},
			}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := newTestFlattener().Flatten([]jmx.Attribute{
				{Name: "Ok", Value: jmx.Scalar{V: 1}},
				{Name: "Bad", Value: tt.value},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, internalerrors.ErrUnsupportedShape)
			assert.Nil(t, results)
		})
	}
}

func TestFlatten_OrderAndIdempotence(t *testing.T) {
	attrs := []jmx.Attribute{
		{Name: "A", Value: jmx.Scalar{V: 1}},
		{Name: "LastGcInfo", Value: jmx.Tabular{Rows: []jmx.Row{gcRow("Eden", 3)}}},
		{Name: "B", Value: jmx.Scalar{V: "s"}},
	}
	f := NewFlattener(zap.NewNop().Sugar(), "c", "d", "alias", "type=x")
	first, err := f.Flatten(attrs)
	require.NoError(t, err)
	second, err := f.Flatten(attrs)
	require.NoError(t, err)

	require.Len(t, first, 3)
	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].AttributeName(), second[i].AttributeName())
		assert.Equal(t, first[i].Values(), second[i].Values())
		assert.NotZero(t, first[i].Len())
		assert.Equal(t, "alias", first[i].KeyAlias())
	}
	assert.Equal(t, []string{"A", "LastGcInfo.Eden", "B"},
		[]string{first[0].AttributeName(), first[1].AttributeName(), first[2].AttributeName()})
}

func TestNew_UniqueKeys(t *testing.T) {
	r := New(1, "a", "", "", "", "", []Entry{{"k", 1}, {"j", 2}, {"k", 3}})
	assert.Equal(t, []Entry{{"k", 3}, {"j", 2}}, r.Values())

	v, ok := r.Value("j")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	values := r.Values()
	values[0].Value = 100
	v, _ = r.Value("k")
	assert.Equal(t, 3, v)
}
