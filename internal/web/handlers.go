package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tablekit/scrub/internal/session"
)

// maxMultipartMemory is the in-memory buffer for multipart parsing;
// larger uploads spill to temp files.
const maxMultipartMemory = 32 << 20

// sourceResponse is the JSON shape of a source with a table preview.
type sourceResponse struct {
	Source   session.Source `json:"source"`
	RowCount int            `json:"row_count"`
	ColCount int            `json:"col_count"`
	Header   []string       `json:"header"`
	Preview  [][]string     `json:"preview"`
}

func (s *Server) sourceResponse(sess *session.Session) sourceResponse {
	return sourceResponse{
		Source:   sess.Source,
		RowCount: sess.Table.NumRows(),
		ColCount: sess.Table.NumCols(),
		Header:   sess.Table.Header,
		Preview:  sess.Table.Preview(s.cfg.Storage.PreviewRows),
	}
}

// handleUpload accepts a multipart CSV upload with an optional
// skip_rows form field and opens a new source session.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Storage.MaxUploadSize)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		s.respondError(w, r, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("no file provided: %w", err))
		return
	}
	defer file.Close()

	skipRows := 0
	if v := r.FormValue("skip_rows"); v != "" {
		skipRows, err = strconv.Atoi(v)
		if err != nil || skipRows < 0 {
			s.respondError(w, r, fmt.Errorf("invalid skip_rows %q", v))
			return
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	sess, err := s.service.Upload(r.Context(), header.Filename, data, skipRows)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, s.sourceResponse(sess))
}

// handleListSources returns all known sources, newest first.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListSources(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sources": records})
}

// handlePreview returns the first rows of a source's current table.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	sess, err := s.service.Open(r.Context(), sourceID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rows := s.cfg.Storage.PreviewRows
	if v := r.URL.Query().Get("rows"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rows = n
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"source_id":  sourceID,
		"header":     sess.Table.Header,
		"rows":       sess.Table.Preview(rows),
		"total_rows": sess.Table.NumRows(),
	})
}

// handleValidate runs the profiler over a source's current table.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	report, err := s.service.Validate(r.Context(), sourceID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"source_id": sourceID,
		"report":    report,
	})
}

// handleDropNullRows removes rows containing nulls, optionally limited
// to a column subset given in the request body.
func (s *Server) handleDropNullRows(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	var req struct {
		Subset []string `json:"subset"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.DropNullRows(r.Context(), sourceID, req.Subset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleDropColumns removes the named columns.
func (s *Server) handleDropColumns(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	var req struct {
		Columns []string `json:"columns"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("decode request body: %w", err))
		return
	}

	result, err := s.service.DropColumns(r.Context(), sourceID, req.Columns)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleSave writes the current table back to disk as the durable
// cleaned state.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	sess, err := s.service.Save(r.Context(), sourceID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.sourceResponse(sess))
}

// handleExportConfig returns the source's pipeline as a declarative
// JSON config.
func (s *Server) handleExportConfig(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	cfg, err := s.service.ExportConfig(r.Context(), sourceID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// handleImportConfig replaces the source's ledger with the posted step
// array and replays it from the raw file.
func (s *Server) handleImportConfig(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read request body: %w", err))
		return
	}

	sess, err := s.service.ImportConfig(r.Context(), sourceID, body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"source_id": sourceID,
		"steps":     sess.Ledger.Len(),
		"rows":      sess.Table.NumRows(),
		"cols":      sess.Table.NumCols(),
	})
}

// handleReplay rebuilds the table from the raw file plus the recorded
// steps.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	sess, err := s.service.Replay(r.Context(), sourceID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"source_id": sourceID,
		"steps":     sess.Ledger.Len(),
		"rows":      sess.Table.NumRows(),
		"cols":      sess.Table.NumCols(),
		"header":    sess.Table.Header,
		"preview":   sess.Table.Preview(s.cfg.Storage.PreviewRows),
	})
}

// handleLoad writes the source's current table into a destination
// database table.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	var req struct {
		TargetTable string `json:"target_table"`
		Mode        string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("decode request body: %w", err))
		return
	}
	if req.Mode == "" {
		req.Mode = "overwrite"
	}

	n, err := s.service.LoadToTable(r.Context(), sourceID, req.TargetTable, req.Mode)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"source_id":   sourceID,
		"destination": req.TargetTable,
		"mode":        req.Mode,
		"rows_loaded": n,
	})
}

// handleDeleteSources removes sources by ID: catalog rows, stored
// files, and live sessions.
func (s *Server) handleDeleteSources(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("decode request body: %w", err))
		return
	}
	if len(req.IDs) == 0 {
		respondJSON(w, http.StatusOK, map[string]any{"deleted": 0})
		return
	}

	if err := s.service.DeleteSources(r.Context(), req.IDs); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": len(req.IDs)})
}

// handleEvict drops a source's in-memory session; disk and catalog
// state are kept.
func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")
	s.service.Evict(sourceID)
	respondJSON(w, http.StatusOK, map[string]any{"evicted": sourceID})
}

// decodeOptionalJSON decodes a JSON request body into dst, treating an
// empty body as no-op.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request body: %w", err)
}
