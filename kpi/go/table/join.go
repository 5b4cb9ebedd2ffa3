package table

import (
	"errors"
	"fmt"
	"time"
)

var errNotSingleIndex = errors.New("table: lookup join requires a single-part index on the right-hand frame")

// ValueAt returns the value of name (an index part or a column) at
// row, and whether name was found at all.
func (f *Frame) ValueAt(row int, name string) (interface{}, bool) {
	for i, n := range f.IndexNames {
		if n == name {
			return f.Index[row][i], true
		}
	}
	if col, ok := f.Columns[name]; ok {
		return col.At(row), true
	}
	return nil, false
}

// OuterJoin performs a full outer join of f and other on their shared
// index shape (both frames must declare the same IndexNames), used by
// the "outer" merge strategy. Any column present in both frames is
// carried from other under name+suffix so the caller can coalesce it
// into the original column afterward; columns unique to other are
// carried under their own name.
func (f *Frame) OuterJoin(other *Frame, suffix string) *Frame {
	out := New(append([]string{}, f.IndexNames...))

	seen := map[string]bool{}
	for _, k := range f.Index {
		out.Index = append(out.Index, k)
		seen[k.String()] = true
	}
	for _, k := range other.Index {
		if !seen[k.String()] {
			out.Index = append(out.Index, k)
		}
	}
	n := len(out.Index)

	for _, name := range f.order {
		src := f.Columns[name]
		dst := NewColumn(src.Kind, n)
		for i := 0; i < len(f.Index); i++ {
			dst.Set(i, src.At(i))
		}
		out.AddColumn(name, dst)
	}

	for _, name := range other.order {
		src := other.Columns[name]
		destName := name
		if f.HasColumn(name) {
			destName = name + suffix
		}
		dst := NewColumn(src.Kind, n)
		for i, k := range out.Index {
			if j := other.RowIndex(k); j >= 0 {
				dst.Set(i, src.At(j))
			}
		}
		out.AddColumn(destName, dst)
	}
	return out
}

// String renders a Key as a stable map-friendly identity string, used
// to detect shared rows across frames during a join.
func (k Key) String() string {
	s := ""
	for i, v := range k {
		if i > 0 {
			s += "\x1f"
		}
		s += fmt.Sprintf("%v", v)
	}
	return s
}

// LookupJoin left-joins f with other, matching f's value for onName
// (an index part or column of f) against other's single-part index,
// carrying other's columns across (suffixed on name collision). Rows
// in f with no match in other get null values for other's columns.
func (f *Frame) LookupJoin(onName string, other *Frame, suffix string) (*Frame, error) {
	if len(other.IndexNames) != 1 {
		return nil, errNotSingleIndex
	}
	out := New(append([]string{}, f.IndexNames...))
	out.Index = append(out.Index, f.Index...)

	for _, name := range f.order {
		out.AddColumn(name, cloneColumn(f.Columns[name]))
	}

	n := f.NumRows()
	otherCols := map[string]*Column{}
	destNames := map[string]string{}
	for _, name := range other.order {
		destName := name
		if f.HasColumn(name) || name == onName {
			destName = name + suffix
		}
		destNames[name] = destName
		otherCols[name] = NewColumn(other.Columns[name].Kind, n)
	}

	for i := 0; i < n; i++ {
		v, _ := f.ValueAt(i, onName)
		j := other.RowIndex(Key{v})
		if j < 0 {
			continue
		}
		for _, name := range other.order {
			otherCols[name].Set(i, other.Columns[name].At(j))
		}
	}
	for _, name := range other.order {
		out.AddColumn(destNames[name], otherCols[name])
	}
	return out, nil
}

func cloneColumn(c *Column) *Column {
	dst := &Column{Kind: c.Kind}
	dst.Null = append([]bool{}, c.Null...)
	dst.Bools = append([]bool{}, c.Bools...)
	dst.Strings = append([]string{}, c.Strings...)
	dst.Times = append([]time.Time{}, c.Times...)
	dst.Floats = append([]float64{}, c.Floats...)
	return dst
}
