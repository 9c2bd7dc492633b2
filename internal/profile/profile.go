// Package profile computes per-column validation reports over a table.
// Profiling is a read-only pass: it never mutates the table and results
// are regenerated on demand, never cached.
package profile

import (
	"math"

	"github.com/tablekit/scrub/internal/table"
)

// SampleSize is the number of non-null sample values collected per
// column, in first-encountered order.
const SampleSize = 3

// Report is a validation snapshot for one table.
type Report struct {
	RowCount int             `json:"row_count"`
	Columns  []ColumnProfile `json:"columns"`
}

// ColumnProfile describes one column's inferred type and null profile.
type ColumnProfile struct {
	Name        string   `json:"name"`
	DType       DType    `json:"dtype"`
	NullCount   int      `json:"null_count"`
	NullPercent float64  `json:"null_percent"`
	Samples     []string `json:"samples"`
}

// Profile computes a report over the table in a single pass per column.
// Null percentage is nullCount/rowCount*100 rounded to two decimals,
// and 0 for an empty table.
func Profile(t *table.Table) Report {
	report := Report{
		RowCount: t.NumRows(),
		Columns:  make([]ColumnProfile, 0, t.NumCols()),
	}

	for i, name := range t.Header {
		col := ColumnProfile{Name: name}
		inf := newInference()

		for _, row := range t.Rows {
			cell := row[i]
			if table.IsNull(cell) {
				col.NullCount++
				continue
			}
			if len(col.Samples) < SampleSize {
				col.Samples = append(col.Samples, cell)
			}
			inf.observe(cell)
		}

		col.DType = inf.result()
		if report.RowCount > 0 {
			pct := float64(col.NullCount) / float64(report.RowCount) * 100
			col.NullPercent = math.Round(pct*100) / 100
		}

		report.Columns = append(report.Columns, col)
	}

	return report
}
