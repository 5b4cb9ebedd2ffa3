package table

// ReduceFunc collapses one column's values within a group to a single
// value. nil values should be skipped by implementations that don't
// want them counted (sum/mean do; count does not).
type ReduceFunc func(values []interface{}) interface{}

// ColumnAggregation names one (input column, reducer, output column)
// triple the grouped aggregation should produce.
type ColumnAggregation struct {
	InputColumn  string
	Reduce       ReduceFunc
	OutputColumn string
}

// GroupByAggregate groups f's rows by the tuple of values at grouper
// (resolved via ValueAt, so grouper names may be index parts or
// columns), then applies each aggregation's reducer to every group.
// The returned Frame's IndexNames are grouper, in first-seen group
// order; output columns are always Float64 unless the reducer
// produces a non-numeric value, in which case the column degrades to
// KindString via its natural Set coercion.
func (f *Frame) GroupByAggregate(grouper []string, aggregations []ColumnAggregation) *Frame {
	groupOrder := make([]Key, 0)
	groupRows := map[string][]int{}

	for row := 0; row < f.NumRows(); row++ {
		parts := make(Key, len(grouper))
		for i, name := range grouper {
			v, _ := f.ValueAt(row, name)
			parts[i] = v
		}
		k := parts.String()
		if _, ok := groupRows[k]; !ok {
			groupOrder = append(groupOrder, parts)
		}
		groupRows[k] = append(groupRows[k], row)
	}

	out := New(append([]string{}, grouper...))
	out.Index = groupOrder

	for _, agg := range aggregations {
		results := make([]interface{}, len(groupOrder))
		kind := KindFloat64
		for i, key := range groupOrder {
			rows := groupRows[key.String()]
			values := make([]interface{}, 0, len(rows))
			for _, r := range rows {
				if v, ok := f.ValueAt(r, agg.InputColumn); ok {
					values = append(values, v)
				}
			}
			results[i] = agg.Reduce(values)
			switch results[i].(type) {
			case nil, float64, float32, int, int64:
			default:
				kind = KindString
			}
		}
		col := NewColumn(kind, len(groupOrder))
		for i, r := range results {
			col.Set(i, r)
		}
		out.AddColumn(agg.OutputColumn, col)
	}
	return out
}

// SubFrame returns a new Frame containing only the given row indices,
// preserving column kinds and index names. Used by per-group
// application of complex aggregators and windowed executors.
func (f *Frame) SubFrame(rows []int) *Frame {
	out := New(append([]string{}, f.IndexNames...))
	for _, r := range rows {
		out.Index = append(out.Index, f.Index[r])
	}
	for _, name := range f.order {
		src := f.Columns[name]
		dst := NewColumn(src.Kind, 0)
		for _, r := range rows {
			dst.Append(src.At(r))
		}
		out.AddColumn(name, dst)
	}
	return out
}

// ReduceSum sums non-null numeric values, treating an all-null group as 0.
func ReduceSum(values []interface{}) interface{} {
	var sum float64
	for _, v := range values {
		if v != nil {
			sum += toFloat64(v)
		}
	}
	return sum
}

// ReduceMean averages non-null numeric values; an all-null group
// reduces to nil rather than dividing by zero.
func ReduceMean(values []interface{}) interface{} {
	var sum float64
	var n int
	for _, v := range values {
		if v != nil {
			sum += toFloat64(v)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return sum / float64(n)
}

// ReduceMin returns the smallest non-null numeric value, or nil.
func ReduceMin(values []interface{}) interface{} {
	var min float64
	var seen bool
	for _, v := range values {
		if v == nil {
			continue
		}
		f := toFloat64(v)
		if !seen || f < min {
			min, seen = f, true
		}
	}
	if !seen {
		return nil
	}
	return min
}

// ReduceMax returns the largest non-null numeric value, or nil.
func ReduceMax(values []interface{}) interface{} {
	var max float64
	var seen bool
	for _, v := range values {
		if v == nil {
			continue
		}
		f := toFloat64(v)
		if !seen || f > max {
			max, seen = f, true
		}
	}
	if !seen {
		return nil
	}
	return max
}

// ReduceCount counts rows regardless of null-ness.
func ReduceCount(values []interface{}) interface{} {
	return float64(len(values))
}

// ReduceFirst returns the first value in the group, or nil if empty.
func ReduceFirst(values []interface{}) interface{} {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// ReduceLast returns the last value in the group, or nil if empty.
func ReduceLast(values []interface{}) interface{} {
	if len(values) == 0 {
		return nil
	}
	return values[len(values)-1]
}

// NamedReducer resolves one of the tabular library's built-in
// reduction names. Stages may instead supply an arbitrary callable as
// the aggregation function (spec.md §4.3's fallback case), which the
// caller wraps into a ReduceFunc itself rather than going through this
// lookup.
func NamedReducer(name string) (ReduceFunc, bool) {
	switch name {
	case "sum":
		return ReduceSum, true
	case "mean", "avg":
		return ReduceMean, true
	case "min":
		return ReduceMin, true
	case "max":
		return ReduceMax, true
	case "count":
		return ReduceCount, true
	case "first":
		return ReduceFirst, true
	case "last":
		return ReduceLast, true
	}
	return nil, false
}
