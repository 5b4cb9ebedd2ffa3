package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.kpiflow.build/go/testutils"
)

func floatFrame(indexNames []string, keys []Key, col string, values []float64) *Frame {
	f := New(indexNames)
	f.Index = keys
	c := NewColumn(KindFloat64, len(values))
	for i, v := range values {
		c.Set(i, v)
	}
	f.AddColumn(col, c)
	return f
}

func TestFrame_IsEmpty(t *testing.T) {
	testutils.SmallTest(t)

	var nilFrame *Frame
	assert.True(t, nilFrame.IsEmpty())

	f := New([]string{"entity"})
	assert.True(t, f.IsEmpty())

	f.Index = []Key{{"a"}}
	assert.False(t, f.IsEmpty())
}

func TestFrame_AddRemoveRenameColumn(t *testing.T) {
	testutils.SmallTest(t)

	f := New([]string{"entity"})
	f.Index = []Key{{"a"}}
	col := NewColumn(KindFloat64, 1)
	col.Set(0, 1.0)
	f.AddColumn("revenue", col)

	assert.True(t, f.HasColumn("revenue"))
	assert.True(t, f.HasIndexName("entity"))
	assert.Equal(t, []string{"revenue"}, f.ColumnNames())

	f.RenameColumn("revenue", "gross_revenue")
	assert.False(t, f.HasColumn("revenue"))
	assert.True(t, f.HasColumn("gross_revenue"))
	assert.Equal(t, []string{"gross_revenue"}, f.ColumnNames())

	f.RemoveColumn("gross_revenue")
	assert.False(t, f.HasColumn("gross_revenue"))
	assert.Empty(t, f.ColumnNames())
}

func TestFrame_IndexEqualAndIndexNamesEqual(t *testing.T) {
	testutils.SmallTest(t)

	a := floatFrame([]string{"entity"}, []Key{{"a"}}, "revenue", []float64{1})
	b := floatFrame([]string{"entity"}, []Key{{"a"}}, "revenue", []float64{99})
	c := floatFrame([]string{"entity"}, []Key{{"b"}}, "revenue", []float64{1})
	d := floatFrame([]string{"entity", "day"}, []Key{{"a", "x"}}, "revenue", []float64{1})

	assert.True(t, a.IndexEqual(b))
	assert.False(t, a.IndexEqual(c))
	assert.True(t, a.IndexNamesEqual(c))
	assert.False(t, a.IndexNamesEqual(d))
}

func TestFrame_RowIndex(t *testing.T) {
	testutils.SmallTest(t)

	f := floatFrame([]string{"entity"}, []Key{{"a"}, {"b"}}, "revenue", []float64{1, 2})
	assert.Equal(t, 0, f.RowIndex(Key{"a"}))
	assert.Equal(t, 1, f.RowIndex(Key{"b"}))
	assert.Equal(t, -1, f.RowIndex(Key{"c"}))
}

func TestFrame_Clone_IsIndependent(t *testing.T) {
	testutils.SmallTest(t)

	f := floatFrame([]string{"entity"}, []Key{{"a"}}, "revenue", []float64{1})
	clone := f.Clone()

	clone.Columns["revenue"].Set(0, 2.0)
	v, _ := f.ValueAt(0, "revenue")
	assert.Equal(t, 1.0, v)

	cv, _ := clone.ValueAt(0, "revenue")
	assert.Equal(t, 2.0, cv)
}

func TestValueAt_ResolvesIndexPartsAndColumns(t *testing.T) {
	testutils.SmallTest(t)

	f := floatFrame([]string{"entity"}, []Key{{"a"}}, "revenue", []float64{1})

	v, ok := f.ValueAt(0, "entity")
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = f.ValueAt(0, "revenue")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = f.ValueAt(0, "missing")
	assert.False(t, ok)
}

func TestOuterJoin_UnionsRowsAndSuffixesCollidingColumns(t *testing.T) {
	testutils.SmallTest(t)

	left := floatFrame([]string{"entity"}, []Key{{"a"}, {"b"}}, "revenue", []float64{1, 2})
	right := floatFrame([]string{"entity"}, []Key{{"b"}, {"c"}}, "revenue", []float64{20, 30})

	out := left.OuterJoin(right, "_new")
	assert.Equal(t, 3, out.NumRows())
	assert.True(t, out.HasColumn("revenue"))
	assert.True(t, out.HasColumn("revenue_new"))

	rowC := out.RowIndex(Key{"c"})
	require.GreaterOrEqual(t, rowC, 0)
	v, _ := out.ValueAt(rowC, "revenue")
	assert.Nil(t, v)
	v, _ = out.ValueAt(rowC, "revenue_new")
	assert.Equal(t, 30.0, v)

	rowB := out.RowIndex(Key{"b"})
	v, _ = out.ValueAt(rowB, "revenue")
	assert.Equal(t, 2.0, v)
	v, _ = out.ValueAt(rowB, "revenue_new")
	assert.Equal(t, 20.0, v)
}

func TestLookupJoin_CarriesMatchedColumnsAndNullsUnmatched(t *testing.T) {
	testutils.SmallTest(t)

	left := New([]string{"event_id"})
	left.Index = []Key{{1}, {2}}
	entityCol := NewColumn(KindString, 2)
	entityCol.Set(0, "a")
	entityCol.Set(1, "z")
	left.AddColumn("entity", entityCol)

	right := floatFrame([]string{"entity"}, []Key{{"a"}, {"b"}}, "revenue", []float64{10, 20})

	out, err := left.LookupJoin("entity", right, "_lkp")
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())

	v, _ := out.ValueAt(0, "revenue")
	assert.Equal(t, 10.0, v)

	v, _ = out.ValueAt(1, "revenue")
	assert.Nil(t, v)
}

func TestLookupJoin_RejectsMultiPartRightIndex(t *testing.T) {
	testutils.SmallTest(t)

	left := floatFrame([]string{"entity"}, []Key{{"a"}}, "revenue", []float64{1})
	right := New([]string{"entity", "day"})
	right.Index = []Key{{"a", "mon"}}

	_, err := left.LookupJoin("entity", right, "_lkp")
	assert.ErrorIs(t, err, errNotSingleIndex)
}

func TestGroupByAggregate_SumsPerGroupInFirstSeenOrder(t *testing.T) {
	testutils.SmallTest(t)

	f := New([]string{"entity", "day"})
	f.Index = []Key{{"a", "mon"}, {"a", "tue"}, {"b", "mon"}}
	col := NewColumn(KindFloat64, 3)
	col.Set(0, 1)
	col.Set(1, 2)
	col.Set(2, 5)
	f.AddColumn("revenue", col)

	out := f.GroupByAggregate([]string{"entity"}, []ColumnAggregation{
		{InputColumn: "revenue", Reduce: ReduceSum, OutputColumn: "total"},
	})

	require.Equal(t, 2, out.NumRows())
	assert.Equal(t, Key{"a"}, out.Index[0])
	assert.Equal(t, Key{"b"}, out.Index[1])

	v, _ := out.ValueAt(0, "total")
	assert.Equal(t, 3.0, v)
	v, _ = out.ValueAt(1, "total")
	assert.Equal(t, 5.0, v)
}

func TestSubFrame_PreservesOnlyGivenRows(t *testing.T) {
	testutils.SmallTest(t)

	f := floatFrame([]string{"entity"}, []Key{{"a"}, {"b"}, {"c"}}, "revenue", []float64{1, 2, 3})
	sub := f.SubFrame([]int{0, 2})

	require.Equal(t, 2, sub.NumRows())
	assert.Equal(t, Key{"a"}, sub.Index[0])
	assert.Equal(t, Key{"c"}, sub.Index[1])

	v, _ := sub.ValueAt(1, "revenue")
	assert.Equal(t, 3.0, v)
}

func TestReduceFuncs(t *testing.T) {
	testutils.SmallTest(t)

	values := []interface{}{1.0, nil, 3.0}
	assert.Equal(t, 4.0, ReduceSum(values))
	assert.Equal(t, 2.0, ReduceMean(values))
	assert.Equal(t, 1.0, ReduceMin(values))
	assert.Equal(t, 3.0, ReduceMax(values))
	assert.Equal(t, 3.0, ReduceCount(values))
	assert.Equal(t, 1.0, ReduceFirst(values))
	assert.Equal(t, 3.0, ReduceLast(values))

	allNull := []interface{}{nil, nil}
	assert.Nil(t, ReduceMean(allNull))
	assert.Nil(t, ReduceMin(allNull))
	assert.Nil(t, ReduceMax(allNull))
}

func TestNamedReducer(t *testing.T) {
	testutils.SmallTest(t)

	_, ok := NamedReducer("sum")
	assert.True(t, ok)
	_, ok = NamedReducer("avg")
	assert.True(t, ok)
	_, ok = NamedReducer("nonsense")
	assert.False(t, ok)
}

func TestColumn_SetAndAppendCoerceNumericTypes(t *testing.T) {
	testutils.SmallTest(t)

	col := NewColumn(KindFloat64, 1)
	col.Set(0, int64(42))
	assert.Equal(t, 42.0, col.At(0))

	col.Append(nil)
	assert.Nil(t, col.At(1))
	assert.Equal(t, 2, col.Len())
}

func TestKey_EqualComparesTimeByValue(t *testing.T) {
	testutils.SmallTest(t)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := Key{t0, "x"}
	b := Key{t1, "x"}
	assert.True(t, a.Equal(b))

	c := Key{t0, "y"}
	assert.False(t, a.Equal(c))
}
