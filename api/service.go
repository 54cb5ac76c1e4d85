// Package api is the reconciliation service: a thin REST wrapper around the
// annotation store plus the MCP tool surface coding agents reply through.
// Error bodies are always {"error": string}; unknown ids map to 404.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/margin/observability"
	"github.com/hazyhaar/margin/store"
)

// Service exposes the store over HTTP and MCP.
type Service struct {
	store  *store.Store
	events *observability.EventLogger
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEventLogger records domain events (create/delete/reply) into the
// observability database.
func WithEventLogger(el *observability.EventLogger) ServiceOption {
	return func(s *Service) { s.events = el }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService wraps a store.
func NewService(st *store.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  st,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterHTTP mounts the REST surface on a chi router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/annotations", s.handleListAnnotations)
		r.Post("/annotations", s.handleCreateAnnotation)
		r.Patch("/annotations/{id}", s.handleUpdateAnnotation)
		r.Delete("/annotations/{id}", s.handleDeleteAnnotation)

		r.Get("/page-notes", s.handleListPageNotes)
		r.Post("/page-notes", s.handleCreatePageNote)
		r.Patch("/page-notes/{id}", s.handleUpdatePageNote)
		r.Delete("/page-notes/{id}", s.handleDeletePageNote)

		r.Get("/fingerprint", s.handleFingerprint)
		r.Get("/export", s.handleExport)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
