// Package aggregate implements the AggregationPlanner: it collapses a
// granularity's single-input, single-output "simple" aggregator
// stages into one grouped-aggregation stage, and keeps arbitrary-arity
// "complex" aggregators separate to be applied per group. Grounded on
// pipeline.py's DataAggregator class.
package aggregate

import (
	"time"

	"go.kpiflow.build/kpi/go/payload"
	"go.kpiflow.build/kpi/go/table"
)

type simpleSpec struct {
	inputCol  string
	outputCol string
	reduce    table.ReduceFunc
}

// Stage is the single synthesized aggregator the builder inserts per
// granularity. It groups by granularity.Grouper, computes every
// collapsed simple aggregation, applies each complex aggregator to
// each group's sub-frame, and concatenates the results — simple
// outputs first, then complex outputs, in declared order, per
// spec.md §4.3.
type Stage struct {
	name        string
	granularity payload.Granularity
	simple      []simpleSpec
	complex     []payload.Stage
	inputs      map[string]struct{}
	outputs     []string
}

// Collapse builds the Stage for one granularity from its simple and
// complex aggregator stages. Fails with a *payload.BadAggregatorShapeError
// the moment a simple aggregator's arity isn't exactly one input and
// one output.
func Collapse(name string, granularity payload.Granularity, stages []payload.Stage) (*Stage, error) {
	st := &Stage{name: name, granularity: granularity, inputs: map[string]struct{}{}}

	for _, s := range stages {
		switch {
		case isSimple(s):
			in, out := s.InputSet(), s.OutputList()
			if len(in) != 1 || len(out) != 1 {
				return nil, &payload.BadAggregatorShapeError{
					StageName:  s.Name(),
					NumInputs:  len(in),
					NumOutputs: len(out),
				}
			}
			var inputCol string
			for k := range in {
				inputCol = k
			}
			st.simple = append(st.simple, simpleSpec{
				inputCol:  inputCol,
				outputCol: out[0],
				reduce:    reducerFor(s),
			})
			st.inputs[inputCol] = struct{}{}
			st.outputs = append(st.outputs, out[0])
		case isComplex(s):
			st.complex = append(st.complex, s)
			for in := range s.InputSet() {
				st.inputs[in] = struct{}{}
			}
		}
	}
	for _, s := range st.complex {
		st.outputs = append(st.outputs, s.OutputList()...)
	}
	return st, nil
}

func isSimple(s payload.Stage) bool {
	sa, ok := s.(payload.SimpleAggregate)
	return ok && sa.IsSimpleAggregate()
}

func isComplex(s payload.Stage) bool {
	ca, ok := s.(payload.ComplexAggregate)
	return ok && ca.IsComplexAggregate()
}

// reducerFor resolves a simple aggregator's named reduction, falling
// back to the stage's own execute callable per spec.md §4.3 ("aggFn is
// either a named reduction ... or the stage's own execute callable as
// a fallback").
func reducerFor(s payload.Stage) table.ReduceFunc {
	if sa, ok := s.(payload.SimpleAggregate); ok {
		if fn, ok := table.NamedReducer(sa.AggFunction()); ok {
			return fn
		}
	}
	if exec, ok := s.(payload.SimpleExecutor); ok {
		return func(values []interface{}) interface{} {
			result, err := exec.ExecuteSimple(values)
			if err != nil {
				return nil
			}
			return result
		}
	}
	return func([]interface{}) interface{} { return nil }
}

func (a *Stage) Name() string                  { return a.name }
func (a *Stage) Type() payload.StageType       { return payload.StageTypeAggregator }
func (a *Stage) Granularity() string           { return a.granularity.Name }
func (a *Stage) InputSet() map[string]struct{} { return a.inputs }
func (a *Stage) OutputList() []string          { return a.outputs }

// ExecuteWindowed groups df by the granularity's Grouper, computes
// every collapsed simple aggregation, applies each complex aggregator
// per group, and column-wise concatenates the results.
func (a *Stage) ExecuteWindowed(df interface{}, startTs, endTs time.Time) (interface{}, error) {
	frame, ok := df.(*table.Frame)
	if !ok || frame == nil {
		return df, nil
	}

	aggs := make([]table.ColumnAggregation, len(a.simple))
	for i, s := range a.simple {
		aggs[i] = table.ColumnAggregation{InputColumn: s.inputCol, Reduce: s.reduce, OutputColumn: s.outputCol}
	}
	grouped := frame.GroupByAggregate(a.granularity.Grouper, aggs)

	if len(a.complex) == 0 {
		return grouped, nil
	}

	groups := groupRowsByKey(frame, a.granularity.Grouper)
	for _, complexStage := range a.complex {
		for i, key := range grouped.Index {
			rows := groups[key.String()]
			sub := frame.SubFrame(rows)
			result, err := runComplex(complexStage, sub, startTs, endTs)
			if err != nil {
				return nil, err
			}
			applyComplexResult(grouped, i, complexStage.OutputList(), result)
		}
	}
	return grouped, nil
}

func groupRowsByKey(f *table.Frame, grouper []string) map[string][]int {
	out := map[string][]int{}
	for row := 0; row < f.NumRows(); row++ {
		parts := make(table.Key, len(grouper))
		for i, name := range grouper {
			v, _ := f.ValueAt(row, name)
			parts[i] = v
		}
		k := parts.String()
		out[k] = append(out[k], row)
	}
	return out
}

func runComplex(s payload.Stage, sub *table.Frame, startTs, endTs time.Time) (interface{}, error) {
	if we, ok := s.(payload.WindowedExecutor); ok {
		return we.ExecuteWindowed(sub, startTs, endTs)
	}
	if se, ok := s.(payload.SimpleExecutor); ok {
		return se.ExecuteSimple(sub)
	}
	return nil, nil
}

// applyComplexResult writes a complex aggregator's per-group result
// into grouped's declared output columns at row i. A scalar result
// populates every declared output identically; a *table.Frame result
// is expected to carry exactly one row per declared output column.
func applyComplexResult(grouped *table.Frame, row int, outputs []string, result interface{}) {
	if resultFrame, ok := result.(*table.Frame); ok && resultFrame.NumRows() > 0 {
		for _, out := range outputs {
			v, _ := resultFrame.ValueAt(0, out)
			ensureColumn(grouped, out).Set(row, v)
		}
		return
	}
	for _, out := range outputs {
		ensureColumn(grouped, out).Set(row, result)
	}
}

func ensureColumn(f *table.Frame, name string) *table.Column {
	if col, ok := f.Columns[name]; ok {
		return col
	}
	col := table.NewColumn(table.KindFloat64, f.NumRows())
	f.AddColumn(name, col)
	return col
}
