package ibclient

import "time"

// Row is one entry in a result table: a fixed-width tuple of values in
// column order. Time-series rows carry the bar timestamp as their key;
// other rows leave it zero and are keyed by position.
type Row struct {
	Time   time.Time
	Values []any
}

// Table is a completed (or partial) tabular result: an ordered sequence of
// rows under a fixed set of column names. Tables returned by request methods
// are snapshots; the caller owns them and no goroutine mutates them further.
type Table struct {
	columns []string
	index   map[string]int
	rows    []Row
}

// NewTable creates an empty table with the given column names.
func NewTable(columns ...string) *Table {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return &Table{columns: columns, index: index}
}

// Columns returns the column names in order.
func (t *Table) Columns() []string { return t.columns }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row returns the i-th row.
func (t *Table) Row(i int) Row { return t.rows[i] }

// Value returns the value at row i, column col, or nil if the column does
// not exist.
func (t *Table) Value(i int, col string) any {
	j, ok := t.index[col]
	if !ok || j >= len(t.rows[i].Values) {
		return nil
	}
	return t.rows[i].Values[j]
}

// Float returns the value at row i, column col as a float64, or 0 if the
// cell is absent or not numeric.
func (t *Table) Float(i int, col string) float64 {
	switch v := t.Value(i, col).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns the value at row i, column col as an int64, or 0 if the cell
// is absent or not an integer.
func (t *Table) Int(i int, col string) int64 {
	switch v := t.Value(i, col).(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Str returns the value at row i, column col as a string, or "" if the cell
// is absent or not a string.
func (t *Table) Str(i int, col string) string {
	if v, ok := t.Value(i, col).(string); ok {
		return v
	}
	return ""
}

// Strings returns the value at row i, column col as a string slice, for
// set-valued cells such as option expirations.
func (t *Table) Strings(i int, col string) []string {
	if v, ok := t.Value(i, col).([]string); ok {
		return v
	}
	return nil
}

// Floats returns the value at row i, column col as a float64 slice, for
// set-valued cells such as option strikes.
func (t *Table) Floats(i int, col string) []float64 {
	if v, ok := t.Value(i, col).([]float64); ok {
		return v
	}
	return nil
}

// Times returns the row keys of a time-series table in row order.
func (t *Table) Times() []time.Time {
	out := make([]time.Time, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Time
	}
	return out
}

// Filter returns a new table holding the rows whose value in col equals
// want. The column set is shared with the receiver.
func (t *Table) Filter(col string, want any) *Table {
	out := &Table{columns: t.columns, index: t.index}
	for i, r := range t.rows {
		if t.Value(i, col) == want {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// AppendRow adds a row. The accumulator calls this under its lock; it is
// also exported for building tables in other packages' tests.
func (t *Table) AppendRow(r Row) {
	t.rows = append(t.rows, r)
}

// snapshot returns a copy sharing column metadata but with an independent
// row slice, safe to hand to a caller while the receive goroutine may still
// be appending to the original.
func (t *Table) snapshot() *Table {
	rows := make([]Row, len(t.rows))
	copy(rows, t.rows)
	return &Table{columns: t.columns, index: t.index, rows: rows}
}
