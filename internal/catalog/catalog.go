// Package catalog persists source metadata in the data_sources table so
// uploads survive process restarts and can be listed, reopened, and
// deleted.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/tablekit/scrub/internal/loader"
)

// SourceRecord is one row of the data_sources table.
type SourceRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OriginalName string    `json:"original_name"`
	FilePath     string    `json:"file_path"`
	SkipRows     int       `json:"skip_rows"`
	RowCount     int       `json:"row_count"`
	ColumnCount  int       `json:"column_count"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Catalog provides access to source metadata.
type Catalog struct {
	db loader.DBTX
}

// New creates a catalog over the given database handle.
func New(db loader.DBTX) *Catalog {
	return &Catalog{db: db}
}

// Ensure creates the data_sources table if it does not exist.
// Call once at startup.
func (c *Catalog) Ensure(ctx context.Context) error {
	const create = `
		CREATE TABLE IF NOT EXISTS data_sources (
			id            UUID PRIMARY KEY,
			name          TEXT NOT NULL,
			original_name TEXT NOT NULL,
			file_path     TEXT NOT NULL,
			skip_rows     INTEGER NOT NULL DEFAULT 0,
			row_count     INTEGER NOT NULL DEFAULT 0,
			column_count  INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL DEFAULT 'ready',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := c.db.Exec(ctx, create); err != nil {
		return fmt.Errorf("ensure data_sources table: %w", err)
	}
	return nil
}

// Insert records a newly uploaded source.
func (c *Catalog) Insert(ctx context.Context, rec SourceRecord) error {
	const insert = `
		INSERT INTO data_sources
			(id, name, original_name, file_path, skip_rows, row_count, column_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := c.db.Exec(ctx, insert,
		rec.ID, rec.Name, rec.OriginalName, rec.FilePath,
		rec.SkipRows, rec.RowCount, rec.ColumnCount, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert data_source %s: %w", rec.ID, err)
	}
	return nil
}

// List returns all sources, newest first.
func (c *Catalog) List(ctx context.Context) ([]SourceRecord, error) {
	const query = `
		SELECT id, name, original_name, file_path, skip_rows, row_count, column_count, status, created_at
		FROM data_sources
		ORDER BY created_at DESC`
	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list data_sources: %w", err)
	}
	defer rows.Close()

	var records []SourceRecord
	for rows.Next() {
		var rec SourceRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.OriginalName, &rec.FilePath,
			&rec.SkipRows, &rec.RowCount, &rec.ColumnCount, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan data_source: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list data_sources: %w", err)
	}
	return records, nil
}

// GetByID returns a single source record.
func (c *Catalog) GetByID(ctx context.Context, id string) (SourceRecord, error) {
	const query = `
		SELECT id, name, original_name, file_path, skip_rows, row_count, column_count, status, created_at
		FROM data_sources
		WHERE id = $1`
	var rec SourceRecord
	err := c.db.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Name, &rec.OriginalName, &rec.FilePath,
		&rec.SkipRows, &rec.RowCount, &rec.ColumnCount, &rec.Status, &rec.CreatedAt)
	if err != nil {
		return SourceRecord{}, fmt.Errorf("get data_source %s: %w", id, err)
	}
	return rec, nil
}

// UpdateShape updates the stored shape and parse offset after a save.
// A saved file has no preamble left, so skipRows is recorded alongside
// the new row and column counts.
func (c *Catalog) UpdateShape(ctx context.Context, id string, rowCount, columnCount, skipRows int) error {
	const update = `
		UPDATE data_sources SET row_count = $1, column_count = $2, skip_rows = $3 WHERE id = $4`
	_, err := c.db.Exec(ctx, update, rowCount, columnCount, skipRows, id)
	if err != nil {
		return fmt.Errorf("update data_source shape %s: %w", id, err)
	}
	return nil
}

// Delete removes source records by ID. Files and live sessions are the
// caller's to clean up.
func (c *Catalog) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := c.db.Exec(ctx, `DELETE FROM data_sources WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete data_source %s: %w", id, err)
		}
	}
	return nil
}
