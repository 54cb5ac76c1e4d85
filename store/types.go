package store

import (
	"time"

	"github.com/hazyhaar/margin/anchor"
)

// Version is the persisted schema version. Any other value on load is
// treated as corrupt and the store starts empty.
const Version = 1

// Annotation types.
const (
	TypeText    = "text"
	TypeElement = "element"
)

// Lifecycle status values.
const (
	StatusAddressed = "addressed"
)

// Annotation is a review comment anchored to a page location. Timestamps
// are ISO-8601 strings and are preserved verbatim through patches.
type Annotation struct {
	ID              string                  `json:"id"`
	Type            string                  `json:"type,omitempty"`
	PageURL         string                  `json:"pageUrl"`
	PageTitle       string                  `json:"pageTitle,omitempty"`
	Note            string                  `json:"note"`
	SelectedText    string                  `json:"selectedText,omitempty"`
	Range           *anchor.TextRange       `json:"range,omitempty"`
	ElementSelector *anchor.ElementSelector `json:"elementSelector,omitempty"`
	Status          string                  `json:"status,omitempty"`
	ResolvedAt      string                  `json:"resolvedAt,omitempty"`
	AddressedAt     string                  `json:"addressedAt,omitempty"`
	Replies         []Reply                 `json:"replies,omitempty"`
	CreatedAt       string                  `json:"createdAt"`
	UpdatedAt       string                  `json:"updatedAt"`
}

// Reply is an agent response on an annotation. Append-only; rendered in
// chronological order regardless of array order.
type Reply struct {
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

// PageNote is a page-scoped note without an anchor.
type PageNote struct {
	ID        string `json:"id"`
	PageURL   string `json:"pageUrl"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Document is the persisted JSON shape.
type Document struct {
	Version     int          `json:"version"`
	Annotations []Annotation `json:"annotations"`
	PageNotes   []PageNote   `json:"pageNotes"`
}

func emptyDocument() Document {
	return Document{
		Version:     Version,
		Annotations: []Annotation{},
		PageNotes:   []PageNote{},
	}
}

// normalize canonicalizes a record at the read boundary. Missing type reads
// as text. Legacy resolvedAt reads as status "addressed"; the raw field is
// kept verbatim so it round-trips on the wire. Nothing deeper in the code
// branches on which lifecycle field was present.
func (a *Annotation) normalize() {
	if a.Type == "" {
		a.Type = TypeText
	}
	if a.ResolvedAt != "" && a.Status == "" {
		a.Status = StatusAddressed
		if a.AddressedAt == "" {
			a.AddressedAt = a.ResolvedAt
		}
	}
}

// Addressed reports whether the annotation has been marked addressed under
// either lifecycle scheme.
func (a *Annotation) Addressed() bool {
	return a.Status == StatusAddressed || a.ResolvedAt != ""
}

// nowISO formats the current time the way browser clients do.
func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
