// Package pipeline implements the ordered list of cleaning steps applied
// to a table, its declarative JSON form, and deterministic replay from
// the raw source file.
package pipeline

import (
	"fmt"

	"github.com/tablekit/scrub/internal/table"
)

// Kind identifies a cleaning operation.
type Kind string

const (
	// KindDropNullRows removes rows containing nulls in the checked
	// columns (all columns when no subset is given).
	KindDropNullRows Kind = "drop_null_rows"

	// KindDropColumns removes the named columns.
	KindDropColumns Kind = "drop_columns"
)

// Step is one immutable cleaning operation. Columns is the subset for
// drop_null_rows (may be empty, meaning all columns) and the ordered
// column names for drop_columns.
type Step struct {
	Kind    Kind
	Columns []string
}

// UnknownColumnError reports a step that references a column absent
// from the table it is applied to. It is returned both during live
// editing and during replay against a changed raw file.
type UnknownColumnError struct {
	Column string
	Op     Kind
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q in %s", e.Column, e.Op)
}

// Apply executes a single step against a table and returns the result.
// The input table is never modified. Adding a new step kind means one
// new Kind constant and one new case here.
func Apply(t *table.Table, step Step) (*table.Table, error) {
	switch step.Kind {
	case KindDropNullRows:
		return applyDropNullRows(t, step.Columns)
	case KindDropColumns:
		return applyDropColumns(t, step.Columns)
	default:
		return nil, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// DropNullRows removes every row where any cell in the subset (or in
// any column when subset is empty) is null, and returns the new table
// together with the step that describes the operation. The step is only
// produced when the mutation succeeds.
func DropNullRows(t *table.Table, subset []string) (*table.Table, Step, error) {
	step := Step{Kind: KindDropNullRows, Columns: subset}
	out, err := Apply(t, step)
	if err != nil {
		return nil, Step{}, err
	}
	return out, step, nil
}

// DropColumns removes the named columns and returns the new table
// together with the describing step. Any absent name fails with
// UnknownColumnError and no step is produced.
func DropColumns(t *table.Table, names []string) (*table.Table, Step, error) {
	step := Step{Kind: KindDropColumns, Columns: names}
	out, err := Apply(t, step)
	if err != nil {
		return nil, Step{}, err
	}
	return out, step, nil
}

func applyDropNullRows(t *table.Table, subset []string) (*table.Table, error) {
	checked, err := resolveColumns(t, subset, KindDropNullRows)
	if err != nil {
		return nil, err
	}

	out := &table.Table{Header: append([]string(nil), t.Header...)}
	for _, row := range t.Rows {
		keep := true
		for _, idx := range checked {
			if table.IsNull(row[idx]) {
				keep = false
				break
			}
		}
		if keep {
			out.Rows = append(out.Rows, append([]string(nil), row...))
		}
	}
	return out, nil
}

func applyDropColumns(t *table.Table, names []string) (*table.Table, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: no columns given", KindDropColumns)
	}

	drop := make(map[int]bool, len(names))
	for _, name := range names {
		idx, ok := t.ColumnIndex(name)
		if !ok {
			return nil, &UnknownColumnError{Column: name, Op: KindDropColumns}
		}
		drop[idx] = true
	}

	out := &table.Table{}
	for i, h := range t.Header {
		if !drop[i] {
			out.Header = append(out.Header, h)
		}
	}
	for _, row := range t.Rows {
		kept := make([]string, 0, len(out.Header))
		for i, cell := range row {
			if !drop[i] {
				kept = append(kept, cell)
			}
		}
		out.Rows = append(out.Rows, kept)
	}
	return out, nil
}

// resolveColumns maps a subset of column names to indexes. An empty
// subset means every column.
func resolveColumns(t *table.Table, subset []string, op Kind) ([]int, error) {
	if len(subset) == 0 {
		all := make([]int, t.NumCols())
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	idxs := make([]int, 0, len(subset))
	for _, name := range subset {
		idx, ok := t.ColumnIndex(name)
		if !ok {
			return nil, &UnknownColumnError{Column: name, Op: op}
		}
		idxs = append(idxs, idx)
	}
	return idxs, nil
}
