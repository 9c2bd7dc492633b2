// Package web provides the HTTP server and JSON API for the cleaning
// pipeline service.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tablekit/scrub/internal/config"
	"github.com/tablekit/scrub/internal/core"
	"github.com/tablekit/scrub/internal/web/middleware"
)

// Server is the HTTP server for the pipeline API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/sources", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/", s.handleListSources)
		r.Delete("/", s.handleDeleteSources)

		r.Route("/{sourceID}", func(r chi.Router) {
			r.Get("/preview", s.handlePreview)
			r.Get("/validate", s.handleValidate)
			r.Post("/clean/drop-null-rows", s.handleDropNullRows)
			r.Post("/clean/drop-columns", s.handleDropColumns)
			r.Post("/save", s.handleSave)
			r.Get("/pipeline/export", s.handleExportConfig)
			r.Post("/pipeline/import", s.handleImportConfig)
			r.Post("/replay", s.handleReplay)
			r.Post("/load", s.handleLoad)
			r.Post("/evict", s.handleEvict)
		})
	})
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests. Blocks until the server
// stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
