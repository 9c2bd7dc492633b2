// Package core wires the tabular store, profiler, step engine, ledger,
// loader, and session registry into the operations the web layer
// exposes. It has no HTTP dependencies.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tablekit/scrub/internal/catalog"
	"github.com/tablekit/scrub/internal/loader"
	"github.com/tablekit/scrub/internal/pipeline"
	"github.com/tablekit/scrub/internal/profile"
	"github.com/tablekit/scrub/internal/session"
	"github.com/tablekit/scrub/internal/table"
)

// Service provides the source lifecycle: upload, profile, clean, save,
// export/import, replay, and load to the database.
//
// The session registry is injected rather than package-global so tests
// get isolated state. The database handle may be nil, in which case
// catalog-backed operations degrade to in-memory state.
type Service struct {
	dataDir  string
	sessions *session.Registry
	db       loader.DBTX
	catalog  *catalog.Catalog
}

// NewService creates a service storing raw files under dataDir.
// db may be nil for a database-less instance (tests, local profiling).
func NewService(db loader.DBTX, sessions *session.Registry, dataDir string) *Service {
	s := &Service{
		dataDir:  dataDir,
		sessions: sessions,
		db:       db,
	}
	if db != nil {
		s.catalog = catalog.New(db)
	}
	return s
}

// Catalog returns the source catalog, or nil when no database is
// configured.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// sourcePath is the on-disk location of a source's raw file.
func (s *Service) sourcePath(sourceID string) string {
	return filepath.Join(s.dataDir, "source_"+sourceID+".csv")
}

// metaPath is the on-disk location of a source's metadata sidecar,
// used when no catalog database is configured.
func (s *Service) metaPath(sourceID string) string {
	return filepath.Join(s.dataDir, "source_"+sourceID+".json")
}

// writeMeta persists source metadata next to the raw file so a
// database-less instance can still reopen sources with the right
// skip_rows after eviction or restart.
func (s *Service) writeMeta(src session.Source) error {
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("encode source metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(src.ID), data, 0644); err != nil {
		return fmt.Errorf("store source metadata: %w", err)
	}
	return nil
}

// Upload parses uploaded CSV bytes, stores the raw file on disk,
// records the source in the catalog, and opens a live session with an
// empty ledger. The stored file keeps the original bytes (including any
// preamble) so replay starts from exactly what was uploaded.
func (s *Service) Upload(ctx context.Context, fileName string, data []byte, skipRows int) (*session.Session, error) {
	t, err := table.Parse(data, skipRows)
	if err != nil {
		return nil, err
	}

	src := session.Source{
		ID:           uuid.NewString(),
		Name:         fileName,
		OriginalName: fileName,
		SkipRows:     skipRows,
		CreatedAt:    time.Now().UTC(),
	}
	src.Path = s.sourcePath(src.ID)

	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(src.Path, data, 0644); err != nil {
		return nil, fmt.Errorf("store raw file: %w", err)
	}

	if s.catalog != nil {
		rec := catalog.SourceRecord{
			ID:           src.ID,
			Name:         src.Name,
			OriginalName: src.OriginalName,
			FilePath:     src.Path,
			SkipRows:     src.SkipRows,
			RowCount:     t.NumRows(),
			ColumnCount:  t.NumCols(),
			Status:       "ready",
			CreatedAt:    src.CreatedAt,
		}
		if err := s.catalog.Insert(ctx, rec); err != nil {
			return nil, err
		}
	} else if err := s.writeMeta(src); err != nil {
		return nil, err
	}

	slog.Info("source uploaded",
		"source_id", src.ID,
		"file", fileName,
		"rows", t.NumRows(),
		"cols", t.NumCols(),
		"skip_rows", skipRows,
	)

	return s.sessions.Create(src, t), nil
}

// Open returns the live session for a source, rebuilding it from the
// stored raw file when the session is not in memory. The rebuilt
// session starts with an empty ledger.
func (s *Service) Open(ctx context.Context, sourceID string) (*session.Session, error) {
	return s.sessions.GetOrCreate(sourceID, func() (session.Source, *table.Table, error) {
		src, err := s.lookupSource(ctx, sourceID)
		if err != nil {
			return session.Source{}, nil, err
		}
		t, err := table.Load(src.Path, src.SkipRows)
		if err != nil {
			return session.Source{}, nil, err
		}
		slog.Info("source reopened from disk", "source_id", sourceID, "path", src.Path)
		return src, t, nil
	})
}

// lookupSource resolves source metadata from the catalog, or from the
// sidecar metadata file when no catalog is configured.
func (s *Service) lookupSource(ctx context.Context, sourceID string) (session.Source, error) {
	if s.catalog != nil {
		rec, err := s.catalog.GetByID(ctx, sourceID)
		if err != nil {
			return session.Source{}, &session.UnknownSourceError{SourceID: sourceID}
		}
		return session.Source{
			ID:           rec.ID,
			Name:         rec.Name,
			OriginalName: rec.OriginalName,
			Path:         rec.FilePath,
			SkipRows:     rec.SkipRows,
			CreatedAt:    rec.CreatedAt,
		}, nil
	}

	data, err := os.ReadFile(s.metaPath(sourceID))
	if err != nil {
		return session.Source{}, &session.UnknownSourceError{SourceID: sourceID}
	}
	var src session.Source
	if err := json.Unmarshal(data, &src); err != nil {
		return session.Source{}, fmt.Errorf("decode source metadata: %w", err)
	}
	if _, err := os.Stat(src.Path); err != nil {
		return session.Source{}, &session.UnknownSourceError{SourceID: sourceID}
	}
	return src, nil
}

// Validate profiles the current table of a source.
func (s *Service) Validate(ctx context.Context, sourceID string) (profile.Report, error) {
	sess, err := s.Open(ctx, sourceID)
	if err != nil {
		return profile.Report{}, err
	}
	return profile.Profile(sess.Table), nil
}

// CleanResult summarizes a cleaning step applied to a source.
type CleanResult struct {
	SourceID   string        `json:"source_id"`
	Step       pipeline.Kind `json:"step"`
	RowsBefore int           `json:"rows_before"`
	RowsAfter  int           `json:"rows_after"`
	ColsBefore int           `json:"cols_before"`
	ColsAfter  int           `json:"cols_after"`
}

// DropNullRows removes rows with nulls in the subset (all columns when
// empty) and records the step in the ledger. Table mutation and ledger
// append happen together or not at all.
func (s *Service) DropNullRows(ctx context.Context, sourceID string, subset []string) (CleanResult, error) {
	sess, err := s.Open(ctx, sourceID)
	if err != nil {
		return CleanResult{}, err
	}

	before := sess.Table
	cleaned, step, err := pipeline.DropNullRows(before, subset)
	if err != nil {
		return CleanResult{}, err
	}

	sess.Table = cleaned
	sess.Ledger.Append(step)

	slog.Info("dropped null rows",
		"source_id", sourceID,
		"removed", before.NumRows()-cleaned.NumRows(),
		"subset", subset,
	)

	return CleanResult{
		SourceID:   sourceID,
		Step:       step.Kind,
		RowsBefore: before.NumRows(),
		RowsAfter:  cleaned.NumRows(),
		ColsBefore: before.NumCols(),
		ColsAfter:  cleaned.NumCols(),
	}, nil
}

// DropColumns removes the named columns and records the step. A name
// absent from the table fails with UnknownColumnError and appends
// nothing.
func (s *Service) DropColumns(ctx context.Context, sourceID string, names []string) (CleanResult, error) {
	sess, err := s.Open(ctx, sourceID)
	if err != nil {
		return CleanResult{}, err
	}

	before := sess.Table
	cleaned, step, err := pipeline.DropColumns(before, names)
	if err != nil {
		return CleanResult{}, err
	}

	sess.Table = cleaned
	sess.Ledger.Append(step)

	slog.Info("dropped columns", "source_id", sourceID, "columns", names)

	return CleanResult{
		SourceID:   sourceID,
		Step:       step.Kind,
		RowsBefore: before.NumRows(),
		RowsAfter:  cleaned.NumRows(),
		ColsBefore: before.NumCols(),
		ColsAfter:  cleaned.NumCols(),
	}, nil
}

// Save writes the current table over the stored file as the durable
// cleaned state and updates the catalog shape. The rewritten file has
// no preamble, so the source's skip_rows resets to zero. A catalog
// failure after a successful save is logged, not rolled back.
func (s *Service) Save(ctx context.Context, sourceID string) (*session.Session, error) {
	sess, err := s.Open(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if err := sess.Table.Save(sess.Source.Path); err != nil {
		return nil, err
	}
	sess.Source.SkipRows = 0

	if s.catalog != nil {
		if err := s.catalog.UpdateShape(ctx, sourceID, sess.Table.NumRows(), sess.Table.NumCols(), 0); err != nil {
			slog.Error("catalog shape update failed after save", "source_id", sourceID, "error", err)
		}
	} else if err := s.writeMeta(sess.Source); err != nil {
		slog.Error("metadata update failed after save", "source_id", sourceID, "error", err)
	}

	slog.Info("source saved",
		"source_id", sourceID,
		"path", sess.Source.Path,
		"rows", sess.Table.NumRows(),
		"cols", sess.Table.NumCols(),
	)
	return sess, nil
}

// PipelineConfig is the wrapped, shareable form of an exported ledger.
// The steps array alone is the canonical declarative form; the wrapper
// adds naming and a load placeholder for later reuse.
type PipelineConfig struct {
	PipelineName string          `json:"pipeline_name"`
	Source       ConfigSource    `json:"source"`
	Steps        json.RawMessage `json:"steps"`
	Load         ConfigLoad      `json:"load"`
}

// ConfigSource identifies the source a pipeline config was exported
// from.
type ConfigSource struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
}

// ConfigLoad is the load placeholder in an exported config; the target
// table is filled in by whoever reuses the config.
type ConfigLoad struct {
	TargetTable string `json:"target_table"`
	Mode        string `json:"mode"`
}

// ExportConfig builds the wrapped pipeline config for a source.
func (s *Service) ExportConfig(ctx context.Context, sourceID string) (PipelineConfig, error) {
	sess, err := s.Open(ctx, sourceID)
	if err != nil {
		return PipelineConfig{}, err
	}

	steps, err := sess.Ledger.Export()
	if err != nil {
		return PipelineConfig{}, err
	}

	name := sess.Source.Name
	if name == "" {
		name = "source_" + sourceID
	}

	return PipelineConfig{
		PipelineName: name + "_pipeline",
		Source:       ConfigSource{SourceID: sourceID, Name: sess.Source.Name},
		Steps:        steps,
		Load:         ConfigLoad{Mode: string(loader.ModeOverwrite)},
	}, nil
}

// ImportConfig replaces a source's ledger with the imported steps and
// replays them from the raw file so the live table matches the new
// ledger. On any error the session is left unchanged.
func (s *Service) ImportConfig(ctx context.Context, sourceID string, steps []byte) (*session.Session, error) {
	sess, err := s.Open(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	ledger, err := pipeline.Import(steps)
	if err != nil {
		return nil, err
	}

	t, err := pipeline.Replay(sess.Source.Path, sess.Source.SkipRows, ledger.Steps())
	if err != nil {
		return nil, err
	}

	sess.Ledger = ledger
	sess.Table = t

	slog.Info("pipeline imported", "source_id", sourceID, "steps", ledger.Len())
	return sess, nil
}

// Replay rebuilds a source's table from the stored raw file and the
// recorded steps, replacing the in-memory table. The result depends
// only on the raw bytes, skip_rows, and the step list.
func (s *Service) Replay(ctx context.Context, sourceID string) (*session.Session, error) {
	sess, err := s.Open(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	t, err := pipeline.Replay(sess.Source.Path, sess.Source.SkipRows, sess.Ledger.Steps())
	if err != nil {
		return nil, err
	}
	sess.Table = t

	slog.Info("pipeline replayed",
		"source_id", sourceID,
		"steps", sess.Ledger.Len(),
		"rows", t.NumRows(),
		"cols", t.NumCols(),
	)
	return sess, nil
}

// LoadToTable writes a source's current table into a destination
// database table. Returns the number of rows written. Independent of
// any prior Save: the two are sequential, non-transactional actions.
func (s *Service) LoadToTable(ctx context.Context, sourceID, destName, modeStr string) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("no database configured")
	}

	mode, err := loader.ParseMode(modeStr)
	if err != nil {
		return 0, err
	}

	sess, err := s.Open(ctx, sourceID)
	if err != nil {
		return 0, err
	}

	n, err := loader.Load(ctx, s.db, sess.Table, destName, mode)
	if err != nil {
		return 0, err
	}

	slog.Info("loaded source into table",
		"source_id", sourceID,
		"destination", destName,
		"mode", mode,
		"rows", n,
	)
	return n, nil
}

// ListSources returns known sources: from the catalog when available,
// otherwise the live sessions.
func (s *Service) ListSources(ctx context.Context) ([]catalog.SourceRecord, error) {
	if s.catalog != nil {
		return s.catalog.List(ctx)
	}

	live := s.sessions.List()
	records := make([]catalog.SourceRecord, 0, len(live))
	for _, src := range live {
		records = append(records, catalog.SourceRecord{
			ID:           src.ID,
			Name:         src.Name,
			OriginalName: src.OriginalName,
			FilePath:     src.Path,
			SkipRows:     src.SkipRows,
			Status:       "ready",
			CreatedAt:    src.CreatedAt,
		})
	}
	return records, nil
}

// DeleteSources removes catalog rows, stored files, and live sessions
// for the given IDs. Individual file removal failures are logged and
// do not stop the rest.
func (s *Service) DeleteSources(ctx context.Context, ids []string) error {
	if s.catalog != nil {
		if err := s.catalog.Delete(ctx, ids); err != nil {
			return err
		}
	}

	for _, id := range ids {
		for _, path := range []string{s.sourcePath(id), s.metaPath(id)} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Error("failed to remove source file", "source_id", id, "path", path, "error", err)
			}
		}
		s.sessions.Evict(id)
	}

	slog.Info("sources deleted", "count", len(ids))
	return nil
}

// Evict drops a source's live session without touching disk or catalog
// state. The source can be reopened later from the stored file.
func (s *Service) Evict(sourceID string) {
	s.sessions.Evict(sourceID)
	slog.Info("session evicted", "source_id", sourceID)
}
