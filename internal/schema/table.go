package schema

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

type cellKind uint8

const (
	cellNull cellKind = iota
	cellTime
	cellFloat
	cellInt
	cellString
)

// Cell is one value in a canonical table row. A Cell is either a UTC
// timestamp, a float, an integer, a string, or explicitly null. Null marks
// a column the source exchange does not supply, which keeps "unavailable"
// distinguishable from a real zero.
type Cell struct {
	kind cellKind
	t    time.Time
	f    float64
	i    int64
	s    string
}

// NullCell returns the explicit null sentinel.
func NullCell() Cell { return Cell{kind: cellNull} }

// TimeCell returns a timestamp cell, normalised to UTC.
func TimeCell(t time.Time) Cell { return Cell{kind: cellTime, t: t.UTC()} }

// FloatCell returns a floating point cell.
func FloatCell(f float64) Cell { return Cell{kind: cellFloat, f: f} }

// IntCell returns an integer cell.
func IntCell(i int64) Cell { return Cell{kind: cellInt, i: i} }

// StringCell returns a string cell.
func StringCell(s string) Cell { return Cell{kind: cellString, s: s} }

// IsNull reports whether the cell is the null sentinel.
func (c Cell) IsNull() bool { return c.kind == cellNull }

// Time returns the timestamp value, if the cell holds one.
func (c Cell) Time() (time.Time, bool) {
	return c.t, c.kind == cellTime
}

// Float returns the float value, if the cell holds one.
func (c Cell) Float() (float64, bool) {
	return c.f, c.kind == cellFloat
}

// Int returns the integer value, if the cell holds one.
func (c Cell) Int() (int64, bool) {
	return c.i, c.kind == cellInt
}

// Str returns the string value, if the cell holds one.
func (c Cell) Str() (string, bool) {
	return c.s, c.kind == cellString
}

// String renders the cell for CSV/text output. Null cells render empty,
// timestamps as RFC 3339 UTC.
func (c Cell) String() string {
	switch c.kind {
	case cellTime:
		return c.t.Format(time.RFC3339)
	case cellFloat:
		return strconv.FormatFloat(c.f, 'f', -1, 64)
	case cellInt:
		return strconv.FormatInt(c.i, 10)
	case cellString:
		return c.s
	default:
		return ""
	}
}

// Row is one record of a canonical table, one cell per column in schema
// order. The first column of every data type is the timestamp.
type Row []Cell

// Timestamp returns the row's timestamp column.
func (r Row) Timestamp() (time.Time, bool) {
	if len(r) == 0 {
		return time.Time{}, false
	}
	return r[0].Time()
}

// Table is an ordered sequence of rows whose columns exactly equal the
// column schema of its DataType. Adapters build a table, sort it, clip it
// to the requested range, and return it; after that it is immutable by
// convention.
type Table struct {
	dtype DataType
	rows  []Row
}

// NewTable returns an empty table for the given data type.
func NewTable(dt DataType) *Table {
	return &Table{dtype: dt}
}

// Type returns the table's data type.
func (t *Table) Type() DataType { return t.dtype }

// Columns returns the ordered column names for the table's data type.
func (t *Table) Columns() []string { return t.dtype.Columns() }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Rows returns the backing row slice in order.
func (t *Table) Rows() []Row { return t.rows }

// Row returns the i-th row.
func (t *Table) Row(i int) Row { return t.rows[i] }

// Append adds a row, rejecting any row whose width does not match the
// column schema or whose first cell is not a timestamp.
func (t *Table) Append(r Row) error {
	cols := typeColumns[t.dtype]
	if len(r) != len(cols) {
		return fmt.Errorf("row has %d cells, %s schema has %d columns",
			len(r), t.dtype, len(cols))
	}
	if _, ok := r.Timestamp(); !ok {
		return fmt.Errorf("first cell of a %s row must be a timestamp", t.dtype)
	}
	t.rows = append(t.rows, r)
	return nil
}

// Sort orders rows ascending by timestamp. The sort is stable so rows with
// equal timestamps keep their arrival order.
func (t *Table) Sort() {
	sort.SliceStable(t.rows, func(i, j int) bool {
		a, _ := t.rows[i].Timestamp()
		b, _ := t.rows[j].Timestamp()
		return a.Before(b)
	})
}

// Clip retains only rows whose timestamp falls in [startMS, endMS),
// expressed as millisecond epochs. This is the uniform boundary policy:
// whatever the native API returned, the caller-visible table honours the
// half-open range.
func (t *Table) Clip(startMS, endMS int64) {
	kept := t.rows[:0]
	for _, r := range t.rows {
		ts, ok := r.Timestamp()
		if !ok {
			continue
		}
		ms := ts.UnixMilli()
		if ms >= startMS && ms < endMS {
			kept = append(kept, r)
		}
	}
	t.rows = kept
}

// Validate checks the table invariants: every row matches the column
// schema width, carries a timestamp, and timestamps are non-decreasing.
func (t *Table) Validate() error {
	cols := typeColumns[t.dtype]
	var prev time.Time
	for i, r := range t.rows {
		if len(r) != len(cols) {
			return fmt.Errorf("row %d has %d cells, schema has %d columns",
				i, len(r), len(cols))
		}
		ts, ok := r.Timestamp()
		if !ok {
			return fmt.Errorf("row %d has no timestamp", i)
		}
		if i > 0 && ts.Before(prev) {
			return fmt.Errorf("row %d timestamp %s precedes row %d timestamp %s",
				i, ts.Format(time.RFC3339), i-1, prev.Format(time.RFC3339))
		}
		prev = ts
	}
	return nil
}
