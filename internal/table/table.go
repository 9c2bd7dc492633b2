// Package table provides the in-memory representation of an uploaded
// tabular dataset. A Table holds raw text cells; type inference is the
// profiler's concern. Row and column order are always preserved.
package table

import "strings"

// DefaultPreviewRows is the number of rows returned by Preview when the
// caller does not specify a count.
const DefaultPreviewRows = 10

// Table is an ordered set of named columns over ordered rows.
// Cells are raw text as parsed from the source file.
type Table struct {
	Header []string
	Rows   [][]string
}

// nullSentinels are cell values treated as null in addition to empty and
// whitespace-only cells. Matched case-insensitively. This set is shared
// by the profiler and the null-dropping step so both agree on what a
// null is.
var nullSentinels = map[string]bool{
	"na":   true,
	"n/a":  true,
	"null": true,
	"nan":  true,
	"none": true,
}

// IsNull reports whether a cell value counts as null: empty,
// whitespace-only, or one of the null sentinels.
func IsNull(cell string) bool {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return true
	}
	return nullSentinels[strings.ToLower(trimmed)]
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int {
	return len(t.Header)
}

// ColumnIndex returns the position of a column by name.
// Returns false if the column does not exist. Matching is exact.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, h := range t.Header {
		if h == name {
			return i, true
		}
	}
	return 0, false
}

// Preview returns the first n rows in original order.
// n is clamped to the table length; n < 1 falls back to
// DefaultPreviewRows.
func (t *Table) Preview(n int) [][]string {
	if n < 1 {
		n = DefaultPreviewRows
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

// Equal reports whether two tables are cell-for-cell identical,
// including header names and row/column order.
func (t *Table) Equal(other *Table) bool {
	if other == nil || len(t.Header) != len(other.Header) || len(t.Rows) != len(other.Rows) {
		return false
	}
	for i, h := range t.Header {
		if other.Header[i] != h {
			return false
		}
	}
	for i, row := range t.Rows {
		if len(row) != len(other.Rows[i]) {
			return false
		}
		for j, cell := range row {
			if other.Rows[i][j] != cell {
				return false
			}
		}
	}
	return true
}
