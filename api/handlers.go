package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/margin/observability"
	"github.com/hazyhaar/margin/store"
)

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListAnnotations returns the full or page-filtered annotation list.
// GET /api/annotations[?page=]
func (s *Service) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	anns := s.store.ListAnnotations(r.Context(), r.URL.Query().Get("page"))
	writeJSON(w, http.StatusOK, anns)
}

// handleCreateAnnotation persists a new annotation and returns it with its
// generated id. POST /api/annotations
func (s *Service) handleCreateAnnotation(w http.ResponseWriter, r *http.Request) {
	var a store.Annotation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.store.CreateAnnotation(r.Context(), a)
	if err != nil {
		s.logger.Error("create annotation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logEvent(r, "annotation_created", "annotation", created.ID, "create")
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateAnnotation applies a merge-patch: absent body fields never
// null out stored fields. PATCH /api/annotations/{id}
func (s *Service) handleUpdateAnnotation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.store.UpdateAnnotation(r.Context(), id, patch)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "annotation not found: "+id)
		return
	case err != nil:
		s.logger.Error("update annotation failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logEvent(r, "annotation_updated", "annotation", id, "update")
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteAnnotation hard-deletes. DELETE /api/annotations/{id}
func (s *Service) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.store.DeleteAnnotation(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "annotation not found: "+id)
		return
	case err != nil:
		s.logger.Error("delete annotation failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logEvent(r, "annotation_deleted", "annotation", id, "delete")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListPageNotes returns the full or page-filtered note list.
// GET /api/page-notes[?page=]
func (s *Service) handleListPageNotes(w http.ResponseWriter, r *http.Request) {
	notes := s.store.ListPageNotes(r.Context(), r.URL.Query().Get("page"))
	writeJSON(w, http.StatusOK, notes)
}

// handleCreatePageNote persists a new page note. POST /api/page-notes
func (s *Service) handleCreatePageNote(w http.ResponseWriter, r *http.Request) {
	var n store.PageNote
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.store.CreatePageNote(r.Context(), n)
	if err != nil {
		s.logger.Error("create page note failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logEvent(r, "page_note_created", "page_note", created.ID, "create")
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdatePageNote merge-patches a page note. PATCH /api/page-notes/{id}
func (s *Service) handleUpdatePageNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.store.UpdatePageNote(r.Context(), id, patch)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "page note not found: "+id)
		return
	case err != nil:
		s.logger.Error("update page note failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// handleDeletePageNote hard-deletes. DELETE /api/page-notes/{id}
func (s *Service) handleDeletePageNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.store.DeletePageNote(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "page note not found: "+id)
		return
	case err != nil:
		s.logger.Error("delete page note failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logEvent(r, "page_note_deleted", "page_note", id, "delete")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleFingerprint returns the store's change token for pollers.
// GET /api/fingerprint
func (s *Service) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	count, maxUpdated := s.store.Fingerprint()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      count,
		"maxUpdated": maxUpdated,
	})
}

// handleExport renders the full store as Markdown. GET /api/export
func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.store.Export()))
}

func (s *Service) logEvent(r *http.Request, eventType, entityType, entityID, action string) {
	if s.events == nil {
		return
	}
	s.events.LogEvent(r.Context(), observability.BusinessEvent{
		EventType:   eventType,
		ServiceName: "margin",
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		Success:     true,
	})
}
