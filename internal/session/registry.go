// Package session holds the process-wide mapping from source ID to its
// live table and pipeline ledger, so interactive editing does not
// re-read the file on every request.
//
// The registry guards its own map for concurrent callers. Mutation of a
// single session's table is not locked here: the caller is responsible
// for serializing concurrent requests against the same source, matching
// the one-user-editing-one-source model.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tablekit/scrub/internal/pipeline"
	"github.com/tablekit/scrub/internal/table"
)

// Source is the identity and parse parameters of one uploaded dataset.
// Immutable after upload except for its associated ledger.
type Source struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	OriginalName string    `json:"original_name"`
	Path         string    `json:"path"`
	SkipRows     int       `json:"skip_rows"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is the live editing state for one source: its current table
// and the ledger of steps that produced it from the raw file.
type Session struct {
	Source Source
	Table  *table.Table
	Ledger *pipeline.Ledger
}

// UnknownSourceError reports an operation against a source ID that is
// not present in the registry.
type UnknownSourceError struct {
	SourceID string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.SourceID)
}

// OpenFunc recreates a session's source and table, typically by loading
// the stored raw file from disk. Used by GetOrCreate on a registry miss.
type OpenFunc func() (Source, *table.Table, error)

// Registry maps source IDs to live sessions. Entries are created on
// first load and retained until explicit eviction or process shutdown;
// there is no automatic expiry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry. Build one per process and pass
// it to every operation that needs session state.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create adds a session for a freshly parsed source with an empty
// ledger, replacing any existing session for the same ID.
func (r *Registry) Create(src Source, t *table.Table) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{Source: src, Table: t, Ledger: pipeline.NewLedger()}
	r.sessions[src.ID] = s
	return s
}

// Get returns the live session for a source ID.
func (r *Registry) Get(sourceID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sourceID]
	if !ok {
		return nil, &UnknownSourceError{SourceID: sourceID}
	}
	return s, nil
}

// GetOrCreate returns the live session for a source ID, or rebuilds it
// via open when absent. The rebuilt session starts with an empty ledger.
func (r *Registry) GetOrCreate(sourceID string, open OpenFunc) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sourceID]; ok {
		return s, nil
	}

	src, t, err := open()
	if err != nil {
		return nil, err
	}

	s := &Session{Source: src, Table: t, Ledger: pipeline.NewLedger()}
	r.sessions[sourceID] = s
	return s, nil
}

// Evict removes a session from the registry. Removing an absent ID is
// not an error.
func (r *Registry) Evict(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sourceID)
}

// List returns the sources of all live sessions, newest first.
func (r *Registry) List() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Source)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
