package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.kpiflow.build/go/testutils"
	"go.kpiflow.build/kpi/go/payload"
	"go.kpiflow.build/kpi/go/table"
)

type fakeSimple struct {
	name  string
	in    string
	out   string
	aggFn string
}

func (s *fakeSimple) Name() string                  { return s.name }
func (s *fakeSimple) Type() payload.StageType       { return payload.StageTypeSimpleAggregate }
func (s *fakeSimple) Granularity() string           { return "daily" }
func (s *fakeSimple) InputSet() map[string]struct{} { return map[string]struct{}{s.in: {}} }
func (s *fakeSimple) OutputList() []string          { return []string{s.out} }
func (s *fakeSimple) IsSimpleAggregate() bool       { return true }
func (s *fakeSimple) AggFunction() string           { return s.aggFn }

type fakeComplex struct {
	name string
	in   string
	out  string
}

func (s *fakeComplex) Name() string                  { return s.name }
func (s *fakeComplex) Type() payload.StageType       { return payload.StageTypeComplexAggregate }
func (s *fakeComplex) Granularity() string           { return "daily" }
func (s *fakeComplex) InputSet() map[string]struct{} { return map[string]struct{}{s.in: {}} }
func (s *fakeComplex) OutputList() []string          { return []string{s.out} }
func (s *fakeComplex) IsComplexAggregate() bool      { return true }
func (s *fakeComplex) ExecuteWindowed(df interface{}, _, _ time.Time) (interface{}, error) {
	sub := df.(*table.Frame)
	var sum float64
	for row := 0; row < sub.NumRows(); row++ {
		v, _ := sub.ValueAt(row, s.in)
		if v != nil {
			sum += v.(float64)
		}
	}
	out := table.New(nil)
	out.Index = []table.Key{{}}
	col := table.NewColumn(table.KindFloat64, 1)
	col.Set(0, sum*10)
	out.AddColumn(s.out, col)
	return out, nil
}

func frameWithGroups(t *testing.T) *table.Frame {
	t.Helper()
	f := table.New([]string{"entity"})
	f.Index = []table.Key{{"a"}, {"a"}, {"b"}}
	amount := table.NewColumn(table.KindFloat64, 3)
	amount.Set(0, 1.0)
	amount.Set(1, 2.0)
	amount.Set(2, 5.0)
	f.AddColumn("amount", amount)
	return f
}

func TestCollapse_SimpleSumGrouped(t *testing.T) {
	testutils.SmallTest(t)

	simple := &fakeSimple{name: "sum_amount", in: "amount", out: "total", aggFn: "sum"}
	stage, err := Collapse("daily_aggregate", payload.Granularity{Name: "daily", Grouper: []string{"entity"}}, []payload.Stage{simple})
	require.NoError(t, err)
	assert.Equal(t, payload.StageTypeAggregator, stage.Type())
	assert.Equal(t, "daily", stage.Granularity())
	assert.Contains(t, stage.InputSet(), "amount")
	assert.Equal(t, []string{"total"}, stage.OutputList())

	result, err := stage.ExecuteWindowed(frameWithGroups(t), time.Time{}, time.Time{})
	require.NoError(t, err)
	out := result.(*table.Frame)
	require.Equal(t, 2, out.NumRows())

	totals := map[string]float64{}
	for row := 0; row < out.NumRows(); row++ {
		entity, _ := out.ValueAt(row, "entity")
		total, _ := out.ValueAt(row, "total")
		totals[entity.(string)] = total.(float64)
	}
	assert.Equal(t, 3.0, totals["a"])
	assert.Equal(t, 5.0, totals["b"])
}

func TestCollapse_ComplexAppliedPerGroup(t *testing.T) {
	testutils.SmallTest(t)

	complexStage := &fakeComplex{name: "scaled", in: "amount", out: "scaled_total"}
	stage, err := Collapse("daily_aggregate", payload.Granularity{Name: "daily", Grouper: []string{"entity"}}, []payload.Stage{complexStage})
	require.NoError(t, err)

	result, err := stage.ExecuteWindowed(frameWithGroups(t), time.Time{}, time.Time{})
	require.NoError(t, err)
	out := result.(*table.Frame)
	require.Equal(t, 2, out.NumRows())

	scaled := map[string]float64{}
	for row := 0; row < out.NumRows(); row++ {
		entity, _ := out.ValueAt(row, "entity")
		v, _ := out.ValueAt(row, "scaled_total")
		scaled[entity.(string)] = v.(float64)
	}
	assert.Equal(t, 30.0, scaled["a"])
	assert.Equal(t, 50.0, scaled["b"])
}

func TestCollapse_BadArityFails(t *testing.T) {
	testutils.SmallTest(t)

	bad := &multiInputSimple{name: "bad_shape"}
	_, err := Collapse("daily_aggregate", payload.Granularity{Name: "daily"}, []payload.Stage{bad})
	require.Error(t, err)
	var shapeErr *payload.BadAggregatorShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "bad_shape", shapeErr.StageName)
}

type multiInputSimple struct{ name string }

func (s *multiInputSimple) Name() string        { return s.name }
func (s *multiInputSimple) Type() payload.StageType { return payload.StageTypeSimpleAggregate }
func (s *multiInputSimple) Granularity() string { return "daily" }
func (s *multiInputSimple) InputSet() map[string]struct{} {
	return map[string]struct{}{"a": {}, "b": {}}
}
func (s *multiInputSimple) OutputList() []string    { return []string{"out"} }
func (s *multiInputSimple) IsSimpleAggregate() bool { return true }
func (s *multiInputSimple) AggFunction() string     { return "sum" }
