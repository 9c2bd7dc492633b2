package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tablekit/scrub/internal/pipeline"
	"github.com/tablekit/scrub/internal/session"
)

const sampleCSV = "exported 2024-05-01\nname,age,city\nalice,30,nyc\nbob,,sf\ncarol,41,NA\ndave,25,la\n"

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(nil, session.NewRegistry(), t.TempDir())
}

func upload(t *testing.T, svc *Service) *session.Session {
	t.Helper()
	sess, err := svc.Upload(context.Background(), "people.csv", []byte(sampleCSV), 1)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	return sess
}

func TestUpload(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)

	if sess.Source.ID == "" {
		t.Error("expected a generated source ID")
	}
	if sess.Source.SkipRows != 1 {
		t.Errorf("skip_rows = %d, want 1", sess.Source.SkipRows)
	}
	if sess.Table.NumRows() != 4 || sess.Table.NumCols() != 3 {
		t.Errorf("unexpected shape %dx%d", sess.Table.NumRows(), sess.Table.NumCols())
	}
	if sess.Ledger.Len() != 0 {
		t.Error("fresh session should have an empty ledger")
	}
}

func TestUpload_BadCSV(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Upload(context.Background(), "bad.csv", []byte("a,b\n1,2,3\n"), 0); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOpen_RebuildsFromDisk(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)
	id := sess.Source.ID

	svc.Evict(id)

	reopened, err := svc.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !reopened.Table.Equal(sess.Table) {
		t.Error("reopened table differs from uploaded table")
	}
}

func TestOpen_UnknownSource(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Open(context.Background(), "no-such-id")
	var srcErr *session.UnknownSourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected *UnknownSourceError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)

	report, err := svc.Validate(context.Background(), sess.Source.ID)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if report.RowCount != 4 || len(report.Columns) != 3 {
		t.Errorf("unexpected report shape: %+v", report)
	}
	// age column: one empty cell out of four rows.
	if report.Columns[1].NullCount != 1 || report.Columns[1].NullPercent != 25.0 {
		t.Errorf("age profile = %+v", report.Columns[1])
	}
}

func TestDropNullRows_MutatesAndRecords(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)
	id := sess.Source.ID

	result, err := svc.DropNullRows(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("DropNullRows failed: %v", err)
	}
	if result.RowsBefore != 4 || result.RowsAfter != 2 {
		t.Errorf("unexpected result %+v", result)
	}
	if sess.Ledger.Len() != 1 {
		t.Errorf("expected 1 recorded step, got %d", sess.Ledger.Len())
	}
}

func TestDropColumns_UnknownLeavesSessionUntouched(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)

	_, err := svc.DropColumns(context.Background(), sess.Source.ID, []string{"ghost"})
	var colErr *pipeline.UnknownColumnError
	if !errors.As(err, &colErr) {
		t.Fatalf("expected *UnknownColumnError, got %v", err)
	}
	if sess.Ledger.Len() != 0 {
		t.Error("failed step must not be recorded")
	}
	if sess.Table.NumCols() != 3 {
		t.Error("failed step must not mutate the table")
	}
}

func TestReplay_MatchesLiveTable(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)
	id := sess.Source.ID
	ctx := context.Background()

	if _, err := svc.DropNullRows(ctx, id, []string{"age"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DropColumns(ctx, id, []string{"city"}); err != nil {
		t.Fatal(err)
	}
	live := sess.Table

	replayed, err := svc.Replay(ctx, id)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !replayed.Table.Equal(live) {
		t.Errorf("replay diverged:\nlive: %v\nreplayed: %v", live.Rows, replayed.Table.Rows)
	}
}

func TestExportImportConfig_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)
	id := sess.Source.ID
	ctx := context.Background()

	if _, err := svc.DropNullRows(ctx, id, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DropColumns(ctx, id, []string{"city"}); err != nil {
		t.Fatal(err)
	}
	live := sess.Table
	ledger := sess.Ledger

	cfg, err := svc.ExportConfig(ctx, id)
	if err != nil {
		t.Fatalf("ExportConfig failed: %v", err)
	}
	if cfg.Source.SourceID != id {
		t.Errorf("config source = %q, want %q", cfg.Source.SourceID, id)
	}
	if cfg.PipelineName == "" {
		t.Error("expected a pipeline name")
	}

	// A fresh source of the same file accepts the exported steps and
	// converges to the same table.
	other := upload(t, svc)
	imported, err := svc.ImportConfig(ctx, other.Source.ID, cfg.Steps)
	if err != nil {
		t.Fatalf("ImportConfig failed: %v", err)
	}
	if !imported.Table.Equal(live) {
		t.Error("imported pipeline produced a different table")
	}
	if !imported.Ledger.Equal(ledger) {
		t.Error("imported ledger differs from the exported one")
	}
}

func TestImportConfig_InvalidLeavesSessionUnchanged(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)
	ctx := context.Background()

	if _, err := svc.DropNullRows(ctx, sess.Source.ID, nil); err != nil {
		t.Fatal(err)
	}
	before := sess.Table

	_, err := svc.ImportConfig(ctx, sess.Source.ID, []byte(`[{"kind":"fill_nulls","params":{}}]`))
	if err == nil {
		t.Fatal("expected import error")
	}
	if sess.Table != before || sess.Ledger.Len() != 1 {
		t.Error("failed import must leave the session unchanged")
	}
}

func TestExportConfig_StepsAreValidJSON(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)
	ctx := context.Background()

	if _, err := svc.DropColumns(ctx, sess.Source.ID, []string{"age"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := svc.ExportConfig(ctx, sess.Source.ID)
	if err != nil {
		t.Fatal(err)
	}

	var steps []map[string]any
	if err := json.Unmarshal(cfg.Steps, &steps); err != nil {
		t.Fatalf("steps are not a JSON array: %v", err)
	}
	if len(steps) != 1 || steps[0]["kind"] != "drop_columns" {
		t.Errorf("unexpected steps: %v", steps)
	}
}

func TestSave_ResetsSkipRows(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)
	id := sess.Source.ID
	ctx := context.Background()

	if _, err := svc.DropNullRows(ctx, id, nil); err != nil {
		t.Fatal(err)
	}
	saved := sess.Table

	if _, err := svc.Save(ctx, id); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if sess.Source.SkipRows != 0 {
		t.Errorf("skip_rows = %d after save, want 0", sess.Source.SkipRows)
	}

	// Reopening from disk yields the saved table.
	svc.Evict(id)
	reopened, err := svc.Open(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Table.Equal(saved) {
		t.Error("reopened table does not match the saved state")
	}
}

func TestLoadToTable_NoDatabase(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)

	if _, err := svc.LoadToTable(context.Background(), sess.Source.ID, "dest", "overwrite"); err == nil {
		t.Fatal("expected error without a database")
	}
}

func TestListSources_FallsBackToSessions(t *testing.T) {
	svc := newTestService(t)
	upload(t, svc)
	upload(t, svc)

	records, err := svc.ListSources(context.Background())
	if err != nil {
		t.Fatalf("ListSources failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 sources, got %d", len(records))
	}
}

func TestDeleteSources(t *testing.T) {
	svc := newTestService(t)
	sess := upload(t, svc)
	id := sess.Source.ID
	ctx := context.Background()

	if err := svc.DeleteSources(ctx, []string{id}); err != nil {
		t.Fatalf("DeleteSources failed: %v", err)
	}
	if _, err := svc.Open(ctx, id); err == nil {
		t.Error("expected deleted source to be unknown")
	}
}
