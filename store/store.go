// Package store persists annotations and page notes as a single versioned
// JSON document. Every mutation rewrites the whole file atomically (temp
// file + rename); a corrupt or version-mismatched file is discarded in
// favour of an empty store. Availability over durability: this is a
// best-effort review-comments tool, never a system of record.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hazyhaar/margin/idgen"
)

// ErrNotFound is returned when an id is unknown to the store.
var ErrNotFound = errors.New("record not found")

// Store is a single-writer JSON-file store. A mutex serializes mutations;
// last-writer-wins is acceptable for one interactive session plus one agent.
type Store struct {
	mu        sync.Mutex
	path      string
	doc       Document
	newAnnID  idgen.Generator
	newNoteID idgen.Generator
	log       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets one generator for all new records, replacing the
// default type-prefixed ones.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) {
		s.newAnnID = gen
		s.newNoteID = gen
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open loads the store at path. A missing file is an empty store; a parse
// failure or schema-version mismatch discards the file contents with a WARN
// and starts empty. Open never fails on bad data.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:      path,
		newAnnID:  idgen.Prefixed("ann_", idgen.Default),
		newNoteID: idgen.Prefixed("note_", idgen.Default),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.doc = s.load()
	return s, nil
}

func (s *Store) load() Document {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("store read failed, starting empty", "path", s.path, "error", err)
		}
		return emptyDocument()
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn("store file corrupt, starting empty", "path", s.path, "error", err)
		return emptyDocument()
	}
	if doc.Version != Version {
		s.log.Warn("store schema version mismatch, starting empty",
			"path", s.path, "got", doc.Version, "want", Version)
		return emptyDocument()
	}

	if doc.Annotations == nil {
		doc.Annotations = []Annotation{}
	}
	if doc.PageNotes == nil {
		doc.PageNotes = []PageNote{}
	}
	for i := range doc.Annotations {
		doc.Annotations[i].normalize()
	}
	return doc
}

// save rewrites the whole document: temp file in the same directory, then
// rename over the target.
func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".margin-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename store: %w", err)
	}
	return nil
}

// CreateAnnotation mints an id if absent, stamps timestamps, sanitizes the
// element preview, and persists.
func (s *Store) CreateAnnotation(ctx context.Context, a Annotation) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = s.newAnnID()
	}
	now := nowISO()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.normalize()

	if a.ElementSelector != nil {
		a.ElementSelector.OuterHTMLPreview = sanitizePreview(a.ElementSelector.OuterHTMLPreview)
		if a.ElementSelector.Description == "" {
			a.ElementSelector.Description = deriveDescription(
				a.ElementSelector.OuterHTMLPreview, a.ElementSelector.TagName)
		}
	}

	s.doc.Annotations = append(s.doc.Annotations, a)
	if err := s.save(); err != nil {
		s.doc.Annotations = s.doc.Annotations[:len(s.doc.Annotations)-1]
		return Annotation{}, err
	}
	return a, nil
}

// UpdateAnnotation applies a strict merge-patch: only fields present in the
// patch change, updatedAt always refreshes, and id/createdAt are immutable.
// Lifecycle and reply fields survive untouched patches byte-identically.
func (s *Store) UpdateAnnotation(ctx context.Context, id string, patch map[string]json.RawMessage) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.annotationIndex(id)
	if i < 0 {
		return Annotation{}, fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}

	merged, err := mergeAnnotation(s.doc.Annotations[i], patch)
	if err != nil {
		return Annotation{}, err
	}
	merged.UpdatedAt = nowISO()
	merged.normalize()

	prev := s.doc.Annotations[i]
	s.doc.Annotations[i] = merged
	if err := s.save(); err != nil {
		s.doc.Annotations[i] = prev
		return Annotation{}, err
	}
	return merged, nil
}

// mergeAnnotation merges patch fields over the record's JSON form so absent
// fields are preserved rather than zeroed.
func mergeAnnotation(a Annotation, patch map[string]json.RawMessage) (Annotation, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return Annotation{}, fmt.Errorf("marshal record: %w", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Annotation{}, fmt.Errorf("explode record: %w", err)
	}
	for k, v := range patch {
		if k == "id" || k == "createdAt" {
			continue
		}
		m[k] = v
	}
	raw, err = json.Marshal(m)
	if err != nil {
		return Annotation{}, fmt.Errorf("remarshal record: %w", err)
	}
	var out Annotation
	if err := json.Unmarshal(raw, &out); err != nil {
		return Annotation{}, fmt.Errorf("invalid patch: %w", err)
	}
	return out, nil
}

// AppendReply appends an agent reply to an annotation.
func (s *Store) AppendReply(ctx context.Context, id, message string) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.annotationIndex(id)
	if i < 0 {
		return Annotation{}, fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}

	prev := s.doc.Annotations[i]
	a := prev
	a.Replies = append(append([]Reply{}, prev.Replies...), Reply{
		Message:   message,
		CreatedAt: nowISO(),
	})
	a.UpdatedAt = nowISO()

	s.doc.Annotations[i] = a
	if err := s.save(); err != nil {
		s.doc.Annotations[i] = prev
		return Annotation{}, err
	}
	return a, nil
}

// SetStatus marks an annotation's lifecycle status. Setting "addressed"
// stamps addressedAt; clearing the status clears both markers.
func (s *Store) SetStatus(ctx context.Context, id, status string) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.annotationIndex(id)
	if i < 0 {
		return Annotation{}, fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}

	prev := s.doc.Annotations[i]
	a := prev
	a.Status = status
	switch status {
	case StatusAddressed:
		a.AddressedAt = nowISO()
	case "":
		a.AddressedAt = ""
		a.ResolvedAt = ""
	}
	a.UpdatedAt = nowISO()

	s.doc.Annotations[i] = a
	if err := s.save(); err != nil {
		s.doc.Annotations[i] = prev
		return Annotation{}, err
	}
	return a, nil
}

// DeleteAnnotation hard-deletes a record. IDs are never reused.
func (s *Store) DeleteAnnotation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.annotationIndex(id)
	if i < 0 {
		return fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}

	prev := s.doc.Annotations
	s.doc.Annotations = append(append([]Annotation{}, prev[:i]...), prev[i+1:]...)
	if err := s.save(); err != nil {
		s.doc.Annotations = prev
		return err
	}
	return nil
}

// ListAnnotations returns annotations, page-filtered when pageURL is set.
func (s *Store) ListAnnotations(ctx context.Context, pageURL string) []Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Annotation, 0, len(s.doc.Annotations))
	for _, a := range s.doc.Annotations {
		if pageURL == "" || a.PageURL == pageURL {
			out = append(out, a)
		}
	}
	return out
}

// CreatePageNote mints an id if absent, stamps timestamps, and persists.
func (s *Store) CreatePageNote(ctx context.Context, n PageNote) (PageNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = s.newNoteID()
	}
	now := nowISO()
	n.CreatedAt = now
	n.UpdatedAt = now

	s.doc.PageNotes = append(s.doc.PageNotes, n)
	if err := s.save(); err != nil {
		s.doc.PageNotes = s.doc.PageNotes[:len(s.doc.PageNotes)-1]
		return PageNote{}, err
	}
	return n, nil
}

// UpdatePageNote merge-patches a page note. Same contract as annotations.
func (s *Store) UpdatePageNote(ctx context.Context, id string, patch map[string]json.RawMessage) (PageNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.pageNoteIndex(id)
	if i < 0 {
		return PageNote{}, fmt.Errorf("page note %s: %w", id, ErrNotFound)
	}

	raw, err := json.Marshal(s.doc.PageNotes[i])
	if err != nil {
		return PageNote{}, fmt.Errorf("marshal record: %w", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return PageNote{}, fmt.Errorf("explode record: %w", err)
	}
	for k, v := range patch {
		if k == "id" || k == "createdAt" {
			continue
		}
		m[k] = v
	}
	raw, err = json.Marshal(m)
	if err != nil {
		return PageNote{}, fmt.Errorf("remarshal record: %w", err)
	}
	var merged PageNote
	if err := json.Unmarshal(raw, &merged); err != nil {
		return PageNote{}, fmt.Errorf("invalid patch: %w", err)
	}
	merged.UpdatedAt = nowISO()

	prev := s.doc.PageNotes[i]
	s.doc.PageNotes[i] = merged
	if err := s.save(); err != nil {
		s.doc.PageNotes[i] = prev
		return PageNote{}, err
	}
	return merged, nil
}

// DeletePageNote hard-deletes a page note.
func (s *Store) DeletePageNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.pageNoteIndex(id)
	if i < 0 {
		return fmt.Errorf("page note %s: %w", id, ErrNotFound)
	}

	prev := s.doc.PageNotes
	s.doc.PageNotes = append(append([]PageNote{}, prev[:i]...), prev[i+1:]...)
	if err := s.save(); err != nil {
		s.doc.PageNotes = prev
		return err
	}
	return nil
}

// ListPageNotes returns page notes, page-filtered when pageURL is set.
func (s *Store) ListPageNotes(ctx context.Context, pageURL string) []PageNote {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PageNote, 0, len(s.doc.PageNotes))
	for _, n := range s.doc.PageNotes {
		if pageURL == "" || n.PageURL == pageURL {
			out = append(out, n)
		}
	}
	return out
}

// Fingerprint is the poller's change detector: total record count plus the
// maximum updatedAt across all records.
func (s *Store) Fingerprint() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.doc.Annotations) + len(s.doc.PageNotes)
	var max string
	for _, a := range s.doc.Annotations {
		if a.UpdatedAt > max {
			max = a.UpdatedAt
		}
	}
	for _, n := range s.doc.PageNotes {
		if n.UpdatedAt > max {
			max = n.UpdatedAt
		}
	}
	return count, max
}

// snapshot returns a point-in-time copy for export rendering.
func (s *Store) snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := Document{Version: s.doc.Version}
	doc.Annotations = append([]Annotation{}, s.doc.Annotations...)
	doc.PageNotes = append([]PageNote{}, s.doc.PageNotes...)
	return doc
}

func (s *Store) annotationIndex(id string) int {
	for i, a := range s.doc.Annotations {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) pageNoteIndex(id string) int {
	for i, n := range s.doc.PageNotes {
		if n.ID == id {
			return i
		}
	}
	return -1
}
