// Package agent keeps a browser-side view of the annotation store in sync
// with the reconciliation service. It owns the local cache, the change
// poller, pending-popup persistence, the badge count and the two-step
// clear-all confirmation.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/margin/anchor"
	"github.com/hazyhaar/margin/store"
)

var (
	// ErrPopupOpen is returned when an operation requires the idle state but
	// an editing popup is open.
	ErrPopupOpen = errors.New("popup is open")
	// ErrNotAttached is returned when the agent has no page.
	ErrNotAttached = errors.New("agent not attached to a page")
)

// State is the agent's sync state. While a popup is open, background
// refreshes are deferred; they apply exactly once when the popup closes.
type State int

const (
	StateIdle State = iota
	StatePopupOpen
	StateApplyingDeferred
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePopupOpen:
		return "popup-open"
	case StateApplyingDeferred:
		return "applying-deferred"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Agent synchronizes one page's annotations against the service. All methods
// are safe for concurrent use; the poller goroutine and the UI path share
// one mutex and never block each other across network calls on the UI side.
type Agent struct {
	client   *Client
	resolver *anchor.Resolver
	pending  *PendingStore
	cacheDir string
	window   time.Duration
	log      *slog.Logger

	mu          sync.Mutex
	state       State
	pageURL     string
	page        *anchor.Page
	annotations []store.Annotation
	resolutions map[string]anchor.Resolution
	deferredRef bool
	draft       *PendingPopup
	armedAt     time.Time
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithResolver overrides the anchor resolver.
func WithResolver(r *anchor.Resolver) AgentOption {
	return func(a *Agent) { a.resolver = r }
}

// WithClearConfirmWindow sets how long a ClearAll arm stays valid.
func WithClearConfirmWindow(d time.Duration) AgentOption {
	return func(a *Agent) { a.window = d }
}

// WithAgentLogger overrides the default slog logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.log = l }
}

// New creates an Agent. cacheDir holds the snapshot cache and the pending
// popup session files.
func New(client *Client, cacheDir string, opts ...AgentOption) *Agent {
	a := &Agent{
		client:   client,
		resolver: anchor.NewResolver(),
		pending:  NewPendingStore(filepath.Join(cacheDir, "pending")),
		cacheDir: cacheDir,
		window:   5 * time.Second,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// State returns the current sync state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Attach binds the agent to a page: it fetches the page's annotations
// (falling back to the local cache when the server is unreachable), resolves
// and highlights each one, and restores a pending popup if one survived a
// reload. The restored draft, if any, is available via Draft and the agent
// enters the popup-open state.
func (a *Agent) Attach(ctx context.Context, pageURL string, page *anchor.Page) error {
	anns, err := a.client.ListAnnotations(ctx, pageURL)
	if err != nil {
		cached, cacheErr := a.loadCache(pageURL)
		if cacheErr != nil {
			return fmt.Errorf("attach: %w", err)
		}
		a.log.Warn("attach: server unreachable, using cache", "error", err, "cached", len(cached))
		anns = cached
	} else {
		a.saveCache(pageURL, anns)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.pageURL = pageURL
	a.page = page
	a.applyLocked(anns)

	if p, ok := a.pending.Restore(pageURL); ok {
		a.draft = &p
		a.state = StatePopupOpen
		a.log.Info("attach: restored pending popup", "page", pageURL)
	} else {
		a.draft = nil
		a.state = StateIdle
	}

	a.log.Info("attach: complete", "page", pageURL, "annotations", len(anns), "badge", len(anns))
	return nil
}

// applyLocked resolves and highlights a fresh annotation set, replacing any
// previous highlights. Caller holds a.mu.
func (a *Agent) applyLocked(anns []store.Annotation) {
	for id := range a.resolutions {
		a.page.RemoveHighlight(id)
	}
	a.annotations = anns
	a.resolutions = make(map[string]anchor.Resolution, len(anns))
	for _, ann := range anns {
		res := a.resolveLocked(ann)
		a.resolutions[ann.ID] = res
		a.page.Highlight(ann.ID, res)
	}
}

func (a *Agent) resolveLocked(ann store.Annotation) anchor.Resolution {
	if ann.Type == store.TypeElement && ann.ElementSelector != nil {
		return a.resolver.ResolveElement(a.page, *ann.ElementSelector)
	}
	if ann.Range != nil {
		return a.resolver.ResolveText(a.page, *ann.Range)
	}
	return anchor.Resolution{Tier: anchor.TierOrphaned}
}

// HandleChange is the poller action. In the idle state it refreshes
// immediately; while a popup is open it marks the refresh pending so the
// foreground edit is never disturbed. A deferred refresh is never dropped.
func (a *Agent) HandleChange(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StatePopupOpen {
		a.deferredRef = true
		a.mu.Unlock()
		a.log.Debug("change deferred: popup open")
		return nil
	}
	a.mu.Unlock()
	return a.refresh(ctx)
}

// refresh re-fetches the page's annotations and reapplies highlights.
func (a *Agent) refresh(ctx context.Context) error {
	a.mu.Lock()
	pageURL := a.pageURL
	attached := a.page != nil
	a.mu.Unlock()
	if !attached {
		return ErrNotAttached
	}

	anns, err := a.client.ListAnnotations(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	a.saveCache(pageURL, anns)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StatePopupOpen {
		// A popup opened while the fetch was in flight. Applying now would
		// disturb the foreground edit, so re-defer for the next close.
		a.deferredRef = true
		a.log.Debug("refresh: popup opened mid-fetch, deferred")
		return nil
	}
	a.applyLocked(anns)
	a.deferredRef = false
	a.log.Info("refresh: applied", "annotations", len(anns))
	return nil
}

// OpenPopup enters the popup-open state and persists the draft so it
// survives a page reload. Returns ErrPopupOpen if a popup is already open.
func (a *Agent) OpenPopup(draft PendingPopup) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.page == nil {
		return ErrNotAttached
	}
	// Opening while a deferred refresh is still applying is allowed: the
	// in-flight refresh re-checks the state before touching highlights.
	if a.state == StatePopupOpen {
		return ErrPopupOpen
	}
	draft.PageURL = a.pageURL
	if draft.SavedAt == "" {
		draft.SavedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if err := a.pending.Save(draft); err != nil {
		a.log.Warn("pending save failed", "error", err)
	}
	a.draft = &draft
	a.state = StatePopupOpen
	return nil
}

// UpdateDraft re-persists the popup's current text while it is open.
func (a *Agent) UpdateDraft(noteText string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StatePopupOpen || a.draft == nil {
		return errors.New("no popup open")
	}
	a.draft.NoteText = noteText
	a.draft.SavedAt = time.Now().UTC().Format(time.RFC3339)
	return a.pending.Save(*a.draft)
}

// Draft returns the open popup's draft, if any.
func (a *Agent) Draft() (PendingPopup, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.draft == nil {
		return PendingPopup{}, false
	}
	return *a.draft, true
}

// ClosePopup leaves the popup-open state and clears the persisted draft.
// If a refresh arrived while the popup was open it is applied now, exactly
// once, before the agent returns to idle.
func (a *Agent) ClosePopup(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StatePopupOpen {
		a.mu.Unlock()
		return nil
	}
	a.pending.Clear(a.pageURL)
	a.draft = nil
	deferred := a.deferredRef
	a.deferredRef = false
	if deferred {
		a.state = StateApplyingDeferred
	} else {
		a.state = StateIdle
	}
	a.mu.Unlock()

	if !deferred {
		return nil
	}
	err := a.refresh(ctx)
	a.mu.Lock()
	// A popup may have reopened while the refresh was in flight; only an
	// undisturbed apply returns the agent to idle.
	if a.state == StateApplyingDeferred {
		a.state = StateIdle
	}
	if err != nil {
		// Retry on the next poll cycle rather than losing the refresh.
		a.deferredRef = true
	}
	a.mu.Unlock()
	return err
}

// CreateAnnotation posts a new annotation and highlights it only after the
// server acknowledges. A failed create leaves the DOM untouched.
func (a *Agent) CreateAnnotation(ctx context.Context, draft store.Annotation) (store.Annotation, error) {
	a.mu.Lock()
	if a.page == nil {
		a.mu.Unlock()
		return store.Annotation{}, ErrNotAttached
	}
	draft.PageURL = a.pageURL
	a.mu.Unlock()

	ack, err := a.client.CreateAnnotation(ctx, draft)
	if err != nil {
		return store.Annotation{}, fmt.Errorf("create: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	res := a.resolveLocked(ack)
	a.annotations = append(a.annotations, ack)
	a.resolutions[ack.ID] = res
	a.page.Highlight(ack.ID, res)
	a.saveCacheLocked()
	a.log.Info("annotation created", "id", ack.ID, "tier", res.Tier, "badge", len(a.annotations))
	return ack, nil
}

// DeleteAnnotation removes the annotation server-side, then unwinds its
// highlight locally.
func (a *Agent) DeleteAnnotation(ctx context.Context, id string) error {
	if err := a.client.DeleteAnnotation(ctx, id); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.page != nil {
		a.page.RemoveHighlight(id)
	}
	delete(a.resolutions, id)
	kept := a.annotations[:0]
	for _, ann := range a.annotations {
		if ann.ID != id {
			kept = append(kept, ann)
		}
	}
	a.annotations = kept
	a.saveCacheLocked()
	a.log.Info("annotation deleted", "id", id, "badge", len(a.annotations))
	return nil
}

// Badge returns the current-page annotation count. Resolved and orphaned
// annotations count; page notes do not.
func (a *Agent) Badge() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.annotations)
}

// Annotations returns a copy of the current annotation set.
func (a *Agent) Annotations() []store.Annotation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]store.Annotation, len(a.annotations))
	copy(out, a.annotations)
	return out
}

// Resolution returns the resolution recorded for an annotation.
func (a *Agent) Resolution(id string) (anchor.Resolution, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.resolutions[id]
	return res, ok
}

// ClearAll deletes every annotation and page note for the current page,
// behind a two-step confirmation: the first call arms and returns false, a
// second call within the confirm window executes and returns true. The
// armed state auto-resets once the window elapses.
func (a *Agent) ClearAll(ctx context.Context) (bool, error) {
	a.mu.Lock()
	if a.page == nil {
		a.mu.Unlock()
		return false, ErrNotAttached
	}
	now := time.Now()
	if a.armedAt.IsZero() || now.Sub(a.armedAt) > a.window {
		a.armedAt = now
		a.mu.Unlock()
		a.log.Info("clear-all armed", "window", a.window)
		return false, nil
	}
	a.armedAt = time.Time{}
	pageURL := a.pageURL
	a.mu.Unlock()

	anns, err := a.client.ListAnnotations(ctx, pageURL)
	if err != nil {
		return false, fmt.Errorf("clear-all: %w", err)
	}
	notes, err := a.client.ListPageNotes(ctx, pageURL)
	if err != nil {
		return false, fmt.Errorf("clear-all: %w", err)
	}
	for _, ann := range anns {
		if err := a.client.DeleteAnnotation(ctx, ann.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("clear-all: annotation %s: %w", ann.ID, err)
		}
	}
	for _, n := range notes {
		if err := a.client.DeletePageNote(ctx, n.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("clear-all: page note %s: %w", n.ID, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.resolutions {
		a.page.RemoveHighlight(id)
	}
	a.annotations = nil
	a.resolutions = map[string]anchor.Resolution{}
	a.saveCacheLocked()
	a.log.Info("clear-all executed", "annotations", len(anns), "pageNotes", len(notes))
	return true, nil
}

// Detector returns a ChangeDetector for the Poller, backed by the server's
// store fingerprint.
func (a *Agent) Detector() ChangeDetector {
	return a.client.Fingerprint
}

// Cache: one JSON file per page under cacheDir. A corrupt cache is discarded
// (deleted) and the caller falls through to a server fetch.

func (a *Agent) cachePath(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return filepath.Join(a.cacheDir, "cache-"+hex.EncodeToString(sum[:8])+".json")
}

func (a *Agent) loadCache(pageURL string) ([]store.Annotation, error) {
	path := a.cachePath(pageURL)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var anns []store.Annotation
	if err := json.Unmarshal(raw, &anns); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("corrupt cache discarded: %w", err)
	}
	return anns, nil
}

func (a *Agent) saveCache(pageURL string, anns []store.Annotation) {
	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		a.log.Warn("cache dir", "error", err)
		return
	}
	raw, err := json.Marshal(anns)
	if err != nil {
		return
	}
	if err := os.WriteFile(a.cachePath(pageURL), raw, 0o644); err != nil {
		a.log.Warn("cache write failed", "error", err)
	}
}

// saveCacheLocked persists the in-memory set. Caller holds a.mu.
func (a *Agent) saveCacheLocked() {
	a.saveCache(a.pageURL, a.annotations)
}
