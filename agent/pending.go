package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/hazyhaar/margin/anchor"
)

// PendingPopup is the snapshot of an open editing popup: the target anchor
// plus whatever the user has typed. It survives a page reload through the
// PendingStore and is restored exactly once.
type PendingPopup struct {
	PageURL      string                  `json:"pageUrl"`
	AnnotationID string                  `json:"annotationId,omitempty"`
	Anchor       *anchor.TextRange       `json:"anchor,omitempty"`
	Element      *anchor.ElementSelector `json:"element,omitempty"`
	NoteText     string                  `json:"noteText"`
	SavedAt      string                  `json:"savedAt"`
}

// PendingStore persists pending popups as page-scoped JSON files in a
// short-lived session directory. Keys are cleared after either a successful
// restore or a discard — a pending file is consumed at most once.
type PendingStore struct {
	dir string
}

// NewPendingStore creates a store rooted at dir.
func NewPendingStore(dir string) *PendingStore {
	return &PendingStore{dir: dir}
}

// Save persists the popup snapshot under its page key.
func (ps *PendingStore) Save(p PendingPopup) error {
	if err := os.MkdirAll(ps.dir, 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(ps.keyPath(p.PageURL), raw, 0o644)
}

// Restore loads and consumes the pending popup for a page. Corrupt state is
// discarded with cleanup; the key is always cleared on both restore and
// discard. Returns false when nothing (usable) was pending.
func (ps *PendingStore) Restore(pageURL string) (PendingPopup, bool) {
	path := ps.keyPath(pageURL)
	raw, err := os.ReadFile(path)
	if err != nil {
		return PendingPopup{}, false
	}
	os.Remove(path)

	var p PendingPopup
	if err := json.Unmarshal(raw, &p); err != nil {
		return PendingPopup{}, false
	}
	if p.PageURL != pageURL {
		return PendingPopup{}, false
	}
	return p, true
}

// Clear drops any pending state for a page.
func (ps *PendingStore) Clear(pageURL string) {
	os.Remove(ps.keyPath(pageURL))
}

func (ps *PendingStore) keyPath(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return filepath.Join(ps.dir, "pending-"+hex.EncodeToString(sum[:8])+".json")
}
