package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Fingerprint is the store's change token: total record count plus the
// maximum updatedAt. Two unequal fingerprints mean "something changed".
type Fingerprint struct {
	Count      int
	MaxUpdated string
}

// ChangeDetector reads the current fingerprint from the server.
type ChangeDetector func(ctx context.Context) (Fingerprint, error)

// PollerOptions tunes the poll loop.
type PollerOptions struct {
	// Interval is the polling frequency. Default: 3s.
	Interval time.Duration
	// Debounce is the quiet period after a change is detected before the
	// action fires. If more changes arrive during the window the timer
	// resets. 0 means fire immediately. Default: 0.
	Debounce time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *PollerOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 3 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Poller polls the server fingerprint and runs an action when it changes.
// The action decides what a refresh means; when it returns an error the
// fingerprint is NOT advanced and the refresh retries on the next cycle.
type Poller struct {
	detect ChangeDetector
	opts   PollerOptions

	last atomic.Value // Fingerprint

	// Counters for observability (exported via Stats).
	checks    atomic.Int64
	changes   atomic.Int64
	errors    atomic.Int64
	refreshes atomic.Int64
}

// PollerStats are point-in-time counters.
type PollerStats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Refreshes       int64 `json:"refreshes"`
}

// NewPoller creates a Poller. Call Run to start the loop.
func NewPoller(detect ChangeDetector, opts PollerOptions) *Poller {
	opts.defaults()
	p := &Poller{detect: detect, opts: opts}
	p.last.Store(Fingerprint{})
	return p
}

// Stats returns the current counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Checks:          p.checks.Load(),
		ChangesDetected: p.changes.Load(),
		Errors:          p.errors.Load(),
		Refreshes:       p.refreshes.Load(),
	}
}

// Last returns the last successfully processed fingerprint.
func (p *Poller) Last() Fingerprint {
	return p.last.Load().(Fingerprint)
}

// Run blocks until ctx is cancelled, polling at opts.Interval. When the
// fingerprint changes and the debounce window passes without further
// changes, action is called.
func (p *Poller) Run(ctx context.Context, action func() error) {
	log := p.opts.Logger

	// Seed initial fingerprint so attach-time state doesn't count as a change.
	if fp, err := p.detect(ctx); err != nil {
		log.Warn("poll: initial fingerprint check failed", "error", err)
	} else {
		p.last.Store(fp)
	}

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	var pending *Fingerprint

	log.Info("poll: started", "interval", p.opts.Interval, "debounce", p.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("poll: stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			p.checks.Add(1)
			cur, err := p.detect(ctx)
			if err != nil {
				p.errors.Add(1)
				log.Warn("poll: fingerprint check failed", "error", err)
				continue
			}
			if cur != p.Last() && (pending == nil || cur != *pending) {
				p.changes.Add(1)
				pending = &cur

				if p.opts.Debounce <= 0 {
					p.fire(log, action, *pending)
					pending = nil
				} else {
					// (Re)start debounce timer — only when the pending
					// fingerprint actually changed, not on every poll cycle.
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.NewTimer(p.opts.Debounce)
					debounceCh = debounceTimer.C
					log.Debug("poll: change detected, debouncing", "count", cur.Count)
				}
			}

		case <-debounceCh:
			debounceCh = nil
			if pending != nil {
				p.fire(log, action, *pending)
				pending = nil
			}
		}
	}
}

func (p *Poller) fire(log *slog.Logger, action func() error, fp Fingerprint) {
	start := time.Now()
	if err := action(); err != nil {
		p.errors.Add(1)
		log.Error("poll: refresh failed", "error", err)
		return
	}
	p.refreshes.Add(1)
	p.last.Store(fp)
	log.Info("poll: refresh complete", "count", fp.Count, "duration", time.Since(start))
}
