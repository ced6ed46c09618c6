// Package tabular provides the in-memory table type exchanged between file
// uploads, stored data and generated processing code, plus CSV and Excel IO.
package tabular

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StaffCodeColumn is the canonical employee key column.
const StaffCodeColumn = "スタッフコード"

// EmployeeNumberColumn is the accepted fallback key column.
const EmployeeNumberColumn = "社員番号"

// ErrNoStaffColumn is returned when a table carries neither key column.
var ErrNoStaffColumn = errors.New("Both 'スタッフコード' and '社員番号' don't exist!")

// Row is one record keyed by column name. Cell values are strings; type
// information lives in the frame's inferred dtypes.
type Row map[string]string

// Frame is an ordered-column table.
type Frame struct {
	Columns []string
	Rows    []Row
}

// New creates an empty frame with the given column order.
func New(columns []string) *Frame {
	return &Frame{Columns: append([]string(nil), columns...)}
}

// AppendRow adds a record. Keys absent from Columns are ignored by IO.
func (f *Frame) AppendRow(row Row) {
	f.Rows = append(f.Rows, row)
}

// RowCount returns the number of records.
func (f *Frame) RowCount() int {
	return len(f.Rows)
}

// HasColumn reports whether name is a column of the frame.
func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column returns all values of a column in row order.
func (f *Frame) Column(name string) []string {
	values := make([]string, 0, len(f.Rows))
	for _, row := range f.Rows {
		values = append(values, row[name])
	}
	return values
}

// Select returns a copy of the frame restricted to columns, in that order.
// Missing columns yield empty cells. Used to restore the stored column
// layout when loading data back by definition.
func (f *Frame) Select(columns []string) *Frame {
	out := New(columns)
	for _, row := range f.Rows {
		selected := make(Row, len(columns))
		for _, c := range columns {
			selected[c] = row[c]
		}
		out.AppendRow(selected)
	}
	return out
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := New(f.Columns)
	for _, row := range f.Rows {
		copied := make(Row, len(row))
		for k, v := range row {
			copied[k] = v
		}
		out.AppendRow(copied)
	}
	return out
}

// Concat stacks frames vertically. The combined column order is the union
// of the inputs' columns in first-seen order; cells a frame lacks stay
// empty. Nil and empty inputs are skipped.
func Concat(frames []*Frame) *Frame {
	var columns []string
	seen := make(map[string]bool)
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, c := range f.Columns {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
	}
	out := New(columns)
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, row := range f.Rows {
			copied := make(Row, len(row))
			for k, v := range row {
				copied[k] = v
			}
			out.AppendRow(copied)
		}
	}
	return out
}

func isMissing(v string) bool {
	return strings.TrimSpace(v) == ""
}

func parseNumber(v string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormalizeStaffCodes returns a copy of the frame with a canonical
// スタッフコード column: rows with a missing code are dropped, 社員番号 is
// promoted when スタッフコード is absent, and a fully numeric code column is
// rewritten as integer strings (1001.0 becomes 1001).
func NormalizeStaffCodes(f *Frame) (*Frame, error) {
	out := f.Clone()

	source := StaffCodeColumn
	if !out.HasColumn(StaffCodeColumn) {
		if !out.HasColumn(EmployeeNumberColumn) {
			return nil, ErrNoStaffColumn
		}
		source = EmployeeNumberColumn
		out.Columns = append(out.Columns, StaffCodeColumn)
	}

	kept := out.Rows[:0]
	for _, row := range out.Rows {
		if isMissing(row[source]) {
			continue
		}
		row[StaffCodeColumn] = row[source]
		kept = append(kept, row)
	}
	out.Rows = kept

	allNumeric := len(out.Rows) > 0
	for _, row := range out.Rows {
		if _, ok := parseNumber(row[StaffCodeColumn]); !ok {
			allNumeric = false
			break
		}
	}
	if allNumeric {
		for _, row := range out.Rows {
			n, _ := parseNumber(row[StaffCodeColumn])
			row[StaffCodeColumn] = strconv.FormatInt(int64(n), 10)
		}
	}

	return out, nil
}

// StaffCodes returns the normalized スタッフコード column values in order,
// duplicates included.
func StaffCodes(f *Frame) ([]string, error) {
	normalized, err := NormalizeStaffCodes(f)
	if err != nil {
		return nil, err
	}
	return normalized.Column(StaffCodeColumn), nil
}

// DTypes infers a pandas-style dtype per column: int64, float64 or object.
// Empty cells are ignored; a column with no values is object.
func (f *Frame) DTypes() map[string]string {
	dtypes := make(map[string]string, len(f.Columns))
	for _, col := range f.Columns {
		dtypes[col] = inferDType(f.Column(col))
	}
	return dtypes
}

func inferDType(values []string) string {
	seen := false
	isInt := true
	for _, v := range values {
		if isMissing(v) {
			continue
		}
		n, ok := parseNumber(v)
		if !ok {
			return "object"
		}
		seen = true
		if n != float64(int64(n)) {
			isInt = false
		}
	}
	if !seen {
		return "object"
	}
	if isInt {
		return "int64"
	}
	return "float64"
}

// HasNumericColumns reports whether any column is numeric.
func (f *Frame) HasNumericColumns() bool {
	for _, dtype := range f.DTypes() {
		if dtype != "object" {
			return true
		}
	}
	return false
}

// Describe renders a compact per-column summary (non-empty count, distinct
// count, most frequent value) used by the analysis step for tables without
// numeric columns.
func (f *Frame) Describe() string {
	var b strings.Builder
	for _, col := range f.Columns {
		counts := make(map[string]int)
		nonEmpty := 0
		for _, v := range f.Column(col) {
			if isMissing(v) {
				continue
			}
			nonEmpty++
			counts[v]++
		}

		top := ""
		freq := 0
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if counts[k] > freq {
				top = k
				freq = counts[k]
			}
		}

		fmt.Fprintf(&b, "%s: count=%d, unique=%d, top=%s, freq=%d\n",
			col, nonEmpty, len(counts), top, freq)
	}
	return b.String()
}

// RowFromAny converts a generically decoded record (JSON result rows from
// generated code) into a Row. Integral floats render without a decimal part.
func RowFromAny(values map[string]any) Row {
	row := make(Row, len(values))
	for k, v := range values {
		row[k] = stringifyCell(v)
	}
	return row
}

func stringifyCell(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprint(n)
	}
}
