// Package merge implements the DataMerge auto-merge engine: a stage's
// output need not know how to combine itself with the job's running
// frame — Merge inspects the shapes of both sides and picks one of
// skip/replace/slice/outer/lookup, coalescing `_new_`-suffixed
// collisions introduced by the join strategies. Grounded on
// pipeline.py's DataMerge class (merge, merge_dataframe,
// merge_non_dataframe, _coalesce_cols).
package merge

import (
	"time"

	"go.kpiflow.build/go/skerr"
	"go.kpiflow.build/kpi/go/payload"
	"go.kpiflow.build/kpi/go/table"
)

// joinSuffix disambiguates a column that exists on both sides of an
// outer/lookup join until coalesce resolves it back onto the original
// name, per pipeline.py's merge_dataframe.
const joinSuffix = "_new_"

// Merger holds the running frame and the preload-stage constants that
// get reapplied as a column every time the frame is replaced or
// outer-joined.
type Merger struct {
	Frame     *table.Frame
	Constants map[string]interface{}
}

// New returns an empty Merger ready to accept its first merge.
func New() *Merger {
	return &Merger{Constants: map[string]interface{}{}}
}

// Merge combines obj into m.Frame under colNames, per spec.md §4.5.
// forceOverwrite skips the same-index/subset-columns skip rule, so
// obj's columns are sliced in whenever the two indexes are equal.
func (m *Merger) Merge(obj interface{}, colNames []string, forceOverwrite bool) error {
	if len(colNames) == 0 {
		return nil
	}
	if _, ok := obj.(map[string]interface{}); ok {
		return skerr.Wrap(payload.ErrUnsupportedMergeInput)
	}

	frame, ok := obj.(*table.Frame)
	switch {
	case !ok && len(colNames) == 1:
		if err := m.mergeScalarColumn(obj, colNames[0]); err != nil {
			return err
		}
		return m.checkPostcondition(colNames)
	case !ok:
		frame = m.rowsToFrame(obj, colNames)
	case len(colNames) == len(frame.ColumnNames()):
		frame = renameColumns(frame, colNames)
	}

	if err := m.mergeTabular(frame, colNames, forceOverwrite); err != nil {
		return err
	}
	return m.checkPostcondition(colNames)
}

func (m *Merger) mergeTabular(obj *table.Frame, colNames []string, forceOverwrite bool) error {
	if obj.IsEmpty() {
		return m.skipStrategy(colNames)
	}
	if m.Frame.IsEmpty() {
		m.Frame = obj
		m.applyConstants()
		return nil
	}
	if m.Frame.IndexEqual(obj) {
		if isSubset(obj.ColumnNames(), m.Frame.ColumnNames()) && !forceOverwrite {
			return m.skipStrategy(colNames)
		}
		m.sliceStrategy(obj)
		return nil
	}
	if m.Frame.IndexNamesEqual(obj) {
		return m.outerStrategy(obj)
	}
	if len(obj.IndexNames) == 1 {
		name := obj.IndexNames[0]
		if m.Frame.HasIndexName(name) || m.Frame.HasColumn(name) {
			return m.lookupStrategy(name, obj)
		}
	}
	return &payload.UnmergeableShapeError{FrameIndexNames: m.Frame.IndexNames, ObjIndexNames: obj.IndexNames}
}

// skipStrategy leaves the running frame untouched except for adding a
// null column for any requested name the frame doesn't already carry
// (as an index part or a column).
func (m *Merger) skipStrategy(colNames []string) error {
	if m.Frame == nil {
		m.Frame = table.New(nil)
	}
	for _, c := range colNames {
		if m.Frame.HasColumn(c) || m.Frame.HasIndexName(c) {
			continue
		}
		m.Frame.AddColumn(c, table.NewColumn(table.KindFloat64, m.Frame.NumRows()))
	}
	return nil
}

// sliceStrategy assigns obj's columns into the running frame in place,
// relying on the two frames sharing the same index (already verified
// by the caller).
func (m *Merger) sliceStrategy(obj *table.Frame) {
	for _, name := range obj.ColumnNames() {
		m.Frame.AddColumn(name, obj.Columns[name])
	}
}

func (m *Merger) outerStrategy(obj *table.Frame) error {
	overlap := intersectNames(m.Frame.ColumnNames(), obj.ColumnNames())
	joined := m.Frame.OuterJoin(obj, joinSuffix)
	coalesce(joined, overlap, joinSuffix)
	m.Frame = joined
	m.applyConstants()
	return nil
}

func (m *Merger) lookupStrategy(onName string, obj *table.Frame) error {
	overlap := intersectNames(m.Frame.ColumnNames(), obj.ColumnNames())
	joined, err := m.Frame.LookupJoin(onName, obj, joinSuffix)
	if err != nil {
		return err
	}
	coalesce(joined, overlap, joinSuffix)
	m.Frame = joined
	return nil
}

// mergeScalarColumn implements the non-tabular single-column path: an
// empty frame registers obj as a constant (to be reapplied on every
// future replace/outer); a non-empty frame assigns obj directly into
// the named column.
func (m *Merger) mergeScalarColumn(obj interface{}, name string) error {
	if m.Frame.IsEmpty() {
		m.Constants[name] = obj
		if m.Frame == nil {
			m.Frame = table.New(nil)
		}
		return nil
	}
	return m.assignColumn(name, obj)
}

func (m *Merger) assignColumn(name string, obj interface{}) error {
	n := m.Frame.NumRows()
	col, ok := m.Frame.Columns[name]
	if !ok {
		col = newColumnFor(obj, n)
	}
	if values, ok := obj.([]interface{}); ok {
		if len(values) != n {
			return skerr.Wrapf(payload.ErrMergePostconditionFailed, "column %q: got %d values for %d rows", name, len(values), n)
		}
		for i, v := range values {
			col.Set(i, v)
		}
	} else {
		for i := 0; i < n; i++ {
			col.Set(i, obj)
		}
	}
	m.Frame.AddColumn(name, col)
	return nil
}

// applyConstants reapplies every registered preload constant as a
// broadcast column, since replace/outer may have swapped in or grown a
// frame that no longer carries them.
func (m *Merger) applyConstants() {
	for name, v := range m.Constants {
		_ = m.assignColumn(name, v)
	}
}

func (m *Merger) checkPostcondition(colNames []string) error {
	for _, c := range colNames {
		if m.Frame.HasColumn(c) || m.Frame.HasIndexName(c) {
			continue
		}
		if _, isConstant := m.Constants[c]; isConstant {
			continue
		}
		return skerr.Wrapf(payload.ErrMergePostconditionFailed, "column %q absent after merge", c)
	}
	return nil
}

// rowsToFrame converts a non-tabular multi-column obj into a frame
// sharing the running frame's index, mirroring pipeline.py's
// merge_non_dataframe: `pd.DataFrame(data=obj, columns=col_names);
// df.index = index`. obj must be row-major — one entry per existing
// index row, each entry itself holding one value per colNames entry —
// since pandas' own data=obj construction requires genuinely 2-D data
// to assign columns this way. A malformed obj, or one whose row count
// doesn't match the running frame's index (there being no index to
// align positionally against otherwise), degrades to an empty frame,
// which the skip strategy then leaves untouched.
func (m *Merger) rowsToFrame(obj interface{}, colNames []string) *table.Frame {
	rows, ok := toRowMajor(obj, len(colNames))
	if !ok {
		return table.New(nil)
	}
	var indexNames []string
	var index []table.Key
	if m.Frame != nil {
		indexNames = append(indexNames, m.Frame.IndexNames...)
		index = append(index, m.Frame.Index...)
	}
	if len(rows) != len(index) {
		return table.New(nil)
	}

	out := table.New(indexNames)
	out.Index = index
	for i, name := range colNames {
		col := newColumnFor(firstNonNil(rows, i), len(rows))
		for row, r := range rows {
			col.Set(row, r[i])
		}
		out.AddColumn(name, col)
	}
	return out
}

// toRowMajor normalizes obj into row-major 2-D data, accepting either a
// Go-native [][]interface{} or the []interface{} of []interface{} shape
// a dynamically-typed stage output produces. Every row must have
// exactly width entries.
func toRowMajor(obj interface{}, width int) ([][]interface{}, bool) {
	var raw []interface{}
	switch v := obj.(type) {
	case [][]interface{}:
		raw = make([]interface{}, len(v))
		for i, row := range v {
			raw[i] = row
		}
	case []interface{}:
		raw = v
	default:
		return nil, false
	}

	rows := make([][]interface{}, len(raw))
	for i, item := range raw {
		row, ok := item.([]interface{})
		if !ok || len(row) != width {
			return nil, false
		}
		rows[i] = row
	}
	return rows, true
}

// firstNonNil returns the first non-nil value at column i across rows,
// used to infer that column's type; nil if every row is null there.
func firstNonNil(rows [][]interface{}, i int) interface{} {
	for _, r := range rows {
		if r[i] != nil {
			return r[i]
		}
	}
	return nil
}

func renameColumns(f *table.Frame, colNames []string) *table.Frame {
	unchanged := true
	for i, oldName := range f.ColumnNames() {
		if i < len(colNames) && oldName != colNames[i] {
			unchanged = false
		}
	}
	if unchanged {
		return f
	}
	out := f.Clone()
	for i, oldName := range f.ColumnNames() {
		if i < len(colNames) {
			out.RenameColumn(oldName, colNames[i])
		}
	}
	return out
}

func coalesce(joined *table.Frame, overlap []string, suffix string) {
	for _, name := range overlap {
		suffixed := name + suffix
		if !joined.HasColumn(suffixed) {
			continue
		}
		dst, src := joined.Columns[name], joined.Columns[suffixed]
		for row := 0; row < joined.NumRows(); row++ {
			if dst.At(row) == nil {
				if v := src.At(row); v != nil {
					dst.Set(row, v)
				}
			}
		}
		joined.RemoveColumn(suffixed)
	}
}

func isSubset(sub, super []string) bool {
	set := map[string]struct{}{}
	for _, s := range super {
		set[s] = struct{}{}
	}
	for _, s := range sub {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

func intersectNames(a, b []string) []string {
	set := map[string]struct{}{}
	for _, s := range a {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range b {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func newColumnFor(v interface{}, n int) *table.Column {
	switch v.(type) {
	case bool:
		return table.NewColumn(table.KindBool, n)
	case float64, float32, int, int64:
		return table.NewColumn(table.KindFloat64, n)
	case time.Time:
		return table.NewColumn(table.KindTime, n)
	default:
		return table.NewColumn(table.KindString, n)
	}
}
