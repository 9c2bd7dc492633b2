// Package loader writes a table's current contents into a named
// destination table in PostgreSQL, under overwrite or append semantics.
//
// The loader is handed a DBTX so it works against a pool, a connection,
// or a transaction, and so tests can substitute a fake.
package loader

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tablekit/scrub/internal/profile"
	"github.com/tablekit/scrub/internal/table"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// InsertBatchRows is the number of rows packed into one multi-row
// INSERT statement.
var InsertBatchRows = 500

// Mode controls whether the destination's existing rows are replaced
// or extended.
type Mode string

const (
	ModeOverwrite Mode = "overwrite"
	ModeAppend    Mode = "append"
)

// ParseMode validates a load mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOverwrite:
		return ModeOverwrite, nil
	case ModeAppend:
		return ModeAppend, nil
	default:
		return "", fmt.Errorf("invalid load mode %q (want overwrite or append)", s)
	}
}

// SchemaMismatchError reports an append-mode load against a destination
// whose column set is incompatible with the table being loaded.
type SchemaMismatchError struct {
	Table    string
	Expected []string
	Got      []string
	Reason   string
}

func (e *SchemaMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("schema mismatch on %q: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("schema mismatch on %q: destination has columns %v, table has %v",
		e.Table, e.Got, e.Expected)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load writes the table into destName. Overwrite drops and recreates
// the destination; append requires it to already exist with a
// compatible column set. Returns the number of rows written. Not
// transactional with any prior disk save: the two are independent
// user actions.
func Load(ctx context.Context, db DBTX, t *table.Table, destName string, mode Mode) (int64, error) {
	if !identPattern.MatchString(destName) {
		return 0, fmt.Errorf("invalid destination table name %q", destName)
	}
	if t.NumCols() == 0 {
		return 0, fmt.Errorf("table has no columns")
	}

	cols := dbColumnNames(t.Header)

	switch mode {
	case ModeOverwrite:
		if err := recreate(ctx, db, t, destName, cols); err != nil {
			return 0, err
		}
	case ModeAppend:
		if err := checkDestination(ctx, db, destName, cols); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("invalid load mode %q", mode)
	}

	return insertRows(ctx, db, t, destName, cols)
}

// recreate drops and recreates the destination with columns typed from
// dtype inference over the table being loaded.
func recreate(ctx context.Context, db DBTX, t *table.Table, destName string, cols []string) error {
	ident := pgx.Identifier{destName}.Sanitize()

	if _, err := db.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return fmt.Errorf("drop table %s: %w", destName, err)
	}

	report := profile.Profile(t)
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = pgx.Identifier{col}.Sanitize() + " " + pgTypeFor(report.Columns[i].DType)
	}

	create := fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))
	if _, err := db.Exec(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", destName, err)
	}
	return nil
}

// checkDestination verifies that an append destination exists and its
// column set matches the table being loaded. Extra, missing, or renamed
// columns are a SchemaMismatchError; no partial coercion is attempted.
func checkDestination(ctx context.Context, db DBTX, destName string, cols []string) error {
	rows, err := db.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`, destName)
	if err != nil {
		return fmt.Errorf("inspect destination %s: %w", destName, err)
	}
	defer rows.Close()

	var existing []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan destination column: %w", err)
		}
		existing = append(existing, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect destination %s: %w", destName, err)
	}

	if len(existing) == 0 {
		return &SchemaMismatchError{Table: destName, Reason: "destination table does not exist"}
	}
	if len(existing) != len(cols) {
		return &SchemaMismatchError{Table: destName, Expected: cols, Got: existing}
	}

	want := make(map[string]bool, len(cols))
	for _, c := range cols {
		want[c] = true
	}
	for _, c := range existing {
		if !want[c] {
			return &SchemaMismatchError{Table: destName, Expected: cols, Got: existing}
		}
	}
	return nil
}

// insertRows writes all rows in multi-row INSERT batches. Null cells
// become SQL NULLs.
func insertRows(ctx context.Context, db DBTX, t *table.Table, destName string, cols []string) (int64, error) {
	if t.NumRows() == 0 {
		return 0, nil
	}

	ident := pgx.Identifier{destName}.Sanitize()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", ident, strings.Join(quoted, ", "))

	var written int64
	for start := 0; start < len(t.Rows); start += InsertBatchRows {
		end := start + InsertBatchRows
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		batch := t.Rows[start:end]

		var sb strings.Builder
		sb.WriteString(prefix)
		args := make([]interface{}, 0, len(batch)*len(cols))

		for i, row := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(")
			for j, cell := range row {
				if j > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "$%d", len(args)+1)
				if table.IsNull(cell) {
					args = append(args, nil)
				} else {
					args = append(args, cell)
				}
			}
			sb.WriteString(")")
		}

		if _, err := db.Exec(ctx, sb.String(), args...); err != nil {
			return written, fmt.Errorf("insert into %s: %w", destName, err)
		}
		written += int64(len(batch))
	}

	return written, nil
}

// pgTypeFor maps an inferred dtype to a PostgreSQL column type.
func pgTypeFor(dt profile.DType) string {
	switch dt {
	case profile.DTypeInteger:
		return "BIGINT"
	case profile.DTypeFloat:
		return "DOUBLE PRECISION"
	case profile.DTypeBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// dbColumnNames converts header names to database column names:
// lowercase with non-alphanumeric runs collapsed to underscores.
func dbColumnNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		col := dbColumnName(h)
		seen[col]++
		if n := seen[col]; n > 1 {
			col = fmt.Sprintf("%s_%d", col, n)
		}
		out[i] = col
	}
	return out
}

func dbColumnName(name string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && sb.Len() > 0 {
				sb.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	col := strings.TrimSuffix(sb.String(), "_")
	if col == "" {
		return "col"
	}
	if col[0] >= '0' && col[0] <= '9' {
		col = "c" + col
	}
	return col
}
