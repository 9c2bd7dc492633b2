package loader

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tablekit/scrub/internal/table"
)

// fakeDB records executed SQL and serves canned column names for
// information_schema queries.
type fakeDB struct {
	execSQL  []string
	execArgs [][]interface{}
	// destColumns is returned by Query for the information_schema
	// lookup; nil means the destination does not exist.
	destColumns []string
	execErr     error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) Query(_ context.Context, _ string, _ ...interface{}) (pgx.Rows, error) {
	return &fakeRows{values: f.destColumns}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, _ ...interface{}) pgx.Row {
	return &fakeRows{values: f.destColumns}
}

// fakeRows implements pgx.Rows over a list of single-column string
// values.
type fakeRows struct {
	values []string
	pos    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	return r.pos < len(r.values)
}

func (r *fakeRows) Scan(dest ...any) error {
	p, ok := dest[0].(*string)
	if !ok {
		return errors.New("fakeRows: expected *string")
	}
	*p = r.values[r.pos]
	r.pos++
	return nil
}

func loadTable() *table.Table {
	return &table.Table{
		Header: []string{"Name", "Age", "Active"},
		Rows: [][]string{
			{"alice", "30", "true"},
			{"bob", "", "false"},
		},
	}
}

func TestLoad_Overwrite(t *testing.T) {
	db := &fakeDB{}

	n, err := Load(context.Background(), db, loadTable(), "people", ModeOverwrite)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows written, got %d", n)
	}

	if len(db.execSQL) != 3 {
		t.Fatalf("expected drop + create + insert, got %d statements: %v", len(db.execSQL), db.execSQL)
	}
	if !strings.HasPrefix(db.execSQL[0], "DROP TABLE IF EXISTS") {
		t.Errorf("first statement should drop: %s", db.execSQL[0])
	}
	if !strings.HasPrefix(db.execSQL[1], "CREATE TABLE") {
		t.Errorf("second statement should create: %s", db.execSQL[1])
	}
	for _, want := range []string{`"name" TEXT`, `"age" BIGINT`, `"active" BOOLEAN`} {
		if !strings.Contains(db.execSQL[1], want) {
			t.Errorf("create missing %q: %s", want, db.execSQL[1])
		}
	}
	if !strings.HasPrefix(db.execSQL[2], `INSERT INTO "people"`) {
		t.Errorf("third statement should insert: %s", db.execSQL[2])
	}
}

func TestLoad_OverwriteIsIdempotent(t *testing.T) {
	db := &fakeDB{}
	tbl := loadTable()

	first, err := Load(context.Background(), db, tbl, "people", ModeOverwrite)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Load(context.Background(), db, tbl, "people", ModeOverwrite)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("repeated overwrite wrote different row counts: %d vs %d", first, second)
	}
}

func TestLoad_NullCellsBecomeNilArgs(t *testing.T) {
	db := &fakeDB{}

	if _, err := Load(context.Background(), db, loadTable(), "people", ModeOverwrite); err != nil {
		t.Fatal(err)
	}

	insertArgs := db.execArgs[len(db.execArgs)-1]
	if len(insertArgs) != 6 {
		t.Fatalf("expected 6 args, got %d", len(insertArgs))
	}
	// Row 2 has an empty Age cell.
	if insertArgs[4] != nil {
		t.Errorf("expected nil arg for null cell, got %v", insertArgs[4])
	}
	if insertArgs[3] != "bob" {
		t.Errorf("expected bob, got %v", insertArgs[3])
	}
}

func TestLoad_AppendMatchingSchema(t *testing.T) {
	db := &fakeDB{destColumns: []string{"name", "age", "active"}}

	n, err := Load(context.Background(), db, loadTable(), "people", ModeAppend)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}

	// Append must not drop or recreate.
	for _, sql := range db.execSQL {
		if strings.HasPrefix(sql, "DROP") || strings.HasPrefix(sql, "CREATE") {
			t.Errorf("append executed DDL: %s", sql)
		}
	}
}

func TestLoad_AppendSchemaMismatch(t *testing.T) {
	cases := []struct {
		name string
		dest []string
	}{
		{"missing destination", nil},
		{"column count differs", []string{"name", "age"}},
		{"column renamed", []string{"name", "age", "enabled"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := &fakeDB{destColumns: tc.dest}

			n, err := Load(context.Background(), db, loadTable(), "people", ModeAppend)
			var mismatch *SchemaMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("expected *SchemaMismatchError, got %v", err)
			}
			if n != 0 {
				t.Errorf("expected zero rows written, got %d", n)
			}
			if len(db.execSQL) != 0 {
				t.Errorf("no statements should execute on mismatch: %v", db.execSQL)
			}
		})
	}
}

func TestLoad_InvalidDestinationName(t *testing.T) {
	for _, name := range []string{"", "1table", "bad-name", "drop table; --"} {
		if _, err := Load(context.Background(), &fakeDB{}, loadTable(), name, ModeOverwrite); err == nil {
			t.Errorf("expected error for destination %q", name)
		}
	}
}

func TestLoad_Batching(t *testing.T) {
	old := InsertBatchRows
	InsertBatchRows = 2
	defer func() { InsertBatchRows = old }()

	tbl := &table.Table{Header: []string{"a"}}
	for i := 0; i < 5; i++ {
		tbl.Rows = append(tbl.Rows, []string{"x"})
	}

	db := &fakeDB{}
	n, err := Load(context.Background(), db, tbl, "t", ModeOverwrite)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("expected 5 rows, got %d", n)
	}

	inserts := 0
	for _, sql := range db.execSQL {
		if strings.HasPrefix(sql, "INSERT") {
			inserts++
		}
	}
	if inserts != 3 {
		t.Errorf("expected 3 insert batches for 5 rows at size 2, got %d", inserts)
	}
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"overwrite", ModeOverwrite, false},
		{"APPEND", ModeAppend, false},
		{" Overwrite ", ModeOverwrite, false},
		{"merge", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParseMode(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestDBColumnNames(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{[]string{"Name", "Created At"}, []string{"name", "created_at"}},
		{[]string{"Total ($)", "%% done"}, []string{"total", "done"}},
		{[]string{"123abc"}, []string{"c123abc"}},
		{[]string{"!!!"}, []string{"col"}},
		{[]string{"dup", "Dup", "DUP"}, []string{"dup", "dup_2", "dup_3"}},
	}

	for _, tc := range cases {
		if got := dbColumnNames(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("dbColumnNames(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
