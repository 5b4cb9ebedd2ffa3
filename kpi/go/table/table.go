// Package table implements the index-aware tabular frame that stages,
// the merge engine, and the aggregation planner all operate on. It is
// the Go-native stand-in for the tabular library the core only ever
// consumes through a narrow contract (spec.md's "Out of scope: the
// tabular library").
package table

import (
	"fmt"
	"time"
)

// Key is one row's index tuple. Values are compared with Go equality
// (==) after being routed through a per-kind comparison, so index
// parts must be one of bool, float64, string, or time.Time.
type Key []interface{}

// Equal reports whether two keys carry the same values in the same
// positions.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if !valueEqual(k[i], other[i]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}

// ColumnKind tags which typed vector backs a Column.
type ColumnKind int

const (
	KindBool ColumnKind = iota
	KindFloat64
	KindString
	KindTime
)

// Column is a single named, typed vector, aligned by position with a
// Frame's Index.
type Column struct {
	Kind    ColumnKind
	Bools   []bool
	Floats  []float64
	Strings []string
	Times   []time.Time
	// Null marks positions with no value, regardless of Kind.
	Null []bool
}

// NewColumn allocates a Column of the given kind with n rows, all null.
func NewColumn(kind ColumnKind, n int) *Column {
	c := &Column{Kind: kind, Null: make([]bool, n)}
	for i := range c.Null {
		c.Null[i] = true
	}
	switch kind {
	case KindBool:
		c.Bools = make([]bool, n)
	case KindFloat64:
		c.Floats = make([]float64, n)
	case KindString:
		c.Strings = make([]string, n)
	case KindTime:
		c.Times = make([]time.Time, n)
	}
	return c
}

func (c *Column) Len() int {
	return len(c.Null)
}

// At returns the value at row i, or nil if null.
func (c *Column) At(i int) interface{} {
	if c.Null[i] {
		return nil
	}
	switch c.Kind {
	case KindBool:
		return c.Bools[i]
	case KindFloat64:
		return c.Floats[i]
	case KindString:
		return c.Strings[i]
	case KindTime:
		return c.Times[i]
	}
	return nil
}

// Set assigns the value at row i; v == nil marks the row null.
func (c *Column) Set(i int, v interface{}) {
	if v == nil {
		c.Null[i] = true
		return
	}
	c.Null[i] = false
	switch c.Kind {
	case KindBool:
		c.Bools[i] = v.(bool)
	case KindFloat64:
		c.Floats[i] = toFloat64(v)
	case KindString:
		c.Strings[i] = fmt.Sprintf("%v", v)
	case KindTime:
		c.Times[i] = v.(time.Time)
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Append grows the column by one row with value v.
func (c *Column) Append(v interface{}) {
	c.Null = append(c.Null, v == nil)
	switch c.Kind {
	case KindBool:
		var b bool
		if v != nil {
			b = v.(bool)
		}
		c.Bools = append(c.Bools, b)
	case KindFloat64:
		var f float64
		if v != nil {
			f = toFloat64(v)
		}
		c.Floats = append(c.Floats, f)
	case KindString:
		var s string
		if v != nil {
			s = fmt.Sprintf("%v", v)
		}
		c.Strings = append(c.Strings, s)
	case KindTime:
		var t time.Time
		if v != nil {
			t = v.(time.Time)
		}
		c.Times = append(c.Times, t)
	}
}

// Frame is the tabular value stages produce and the merge engine
// combines into the running dataset. Index holds one Key per row;
// IndexNames names each part of that tuple; Columns holds the named
// typed vectors, one entry per row aligned by position with Index.
type Frame struct {
	IndexNames []string
	Index      []Key
	Columns    map[string]*Column
	// order preserves column insertion order for deterministic output.
	order []string
}

// New creates an empty Frame with the given index shape.
func New(indexNames []string) *Frame {
	return &Frame{IndexNames: indexNames, Columns: map[string]*Column{}}
}

// NumRows returns the number of rows (length of Index).
func (f *Frame) NumRows() int {
	return len(f.Index)
}

// IsEmpty reports whether the frame has no rows. A nil Frame counts as
// empty, matching "obj empty => skip" in the merge strategy table.
func (f *Frame) IsEmpty() bool {
	return f == nil || len(f.Index) == 0
}

// ColumnNames returns column names in insertion order.
func (f *Frame) ColumnNames() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// HasColumn reports whether name is a column (not an index part).
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.Columns[name]
	return ok
}

// HasIndexName reports whether name is one of the index parts.
func (f *Frame) HasIndexName(name string) bool {
	for _, n := range f.IndexNames {
		if n == name {
			return true
		}
	}
	return false
}

// AddColumn registers col under name, replacing any existing column of
// that name and adding it to the column order if new.
func (f *Frame) AddColumn(name string, col *Column) {
	if _, exists := f.Columns[name]; !exists {
		f.order = append(f.order, name)
	}
	f.Columns[name] = col
}

// RemoveColumn drops a column entirely.
func (f *Frame) RemoveColumn(name string) {
	if _, ok := f.Columns[name]; !ok {
		return
	}
	delete(f.Columns, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// RenameColumn renames oldName to newName, preserving order position.
func (f *Frame) RenameColumn(oldName, newName string) {
	col, ok := f.Columns[oldName]
	if !ok {
		return
	}
	delete(f.Columns, oldName)
	f.Columns[newName] = col
	for i, n := range f.order {
		if n == oldName {
			f.order[i] = newName
			break
		}
	}
}

// IndexEqual reports whether f and other have the same index names and
// the same sequence of index keys, which is the "obj.index equals
// self.frame.index" test in the merge strategy table.
func (f *Frame) IndexEqual(other *Frame) bool {
	if len(f.IndexNames) != len(other.IndexNames) {
		return false
	}
	for i := range f.IndexNames {
		if f.IndexNames[i] != other.IndexNames[i] {
			return false
		}
	}
	if len(f.Index) != len(other.Index) {
		return false
	}
	for i := range f.Index {
		if !f.Index[i].Equal(other.Index[i]) {
			return false
		}
	}
	return true
}

// IndexNamesEqual reports whether f and other declare the same ordered
// set of index-part names, regardless of the actual row keys — the
// "identical index-name lists" test that selects the outer strategy.
func (f *Frame) IndexNamesEqual(other *Frame) bool {
	if len(f.IndexNames) != len(other.IndexNames) {
		return false
	}
	for i := range f.IndexNames {
		if f.IndexNames[i] != other.IndexNames[i] {
			return false
		}
	}
	return true
}

// RowIndex returns the row position of key, or -1.
func (f *Frame) RowIndex(key Key) int {
	for i, k := range f.Index {
		if k.Equal(key) {
			return i
		}
	}
	return -1
}

// Clone makes a deep-enough copy that mutating the result never
// affects f — used by merge strategies that must not mutate the
// caller's frame in place.
func (f *Frame) Clone() *Frame {
	out := New(append([]string{}, f.IndexNames...))
	out.Index = append([]Key{}, f.Index...)
	for _, name := range f.order {
		src := f.Columns[name]
		dst := &Column{Kind: src.Kind}
		dst.Null = append([]bool{}, src.Null...)
		dst.Bools = append([]bool{}, src.Bools...)
		dst.Floats = append([]float64{}, src.Floats...)
		dst.Strings = append([]string{}, src.Strings...)
		dst.Times = append([]time.Time{}, src.Times...)
		out.AddColumn(name, dst)
	}
	return out
}
