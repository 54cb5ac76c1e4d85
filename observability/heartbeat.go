package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/hazyhaar/margin/dbopen"
)

// RuntimeMetrics is a point-in-time snapshot of the Go process, recorded
// alongside each heartbeat so a stale beat still carries the last-known
// process shape.
type RuntimeMetrics struct {
	GoroutinesCount int
	MemoryAllocMB   float64
	MemorySysMB     float64
	GCCount         uint32
}

// CollectRuntimeMetrics samples the runtime. Cheap enough to run per beat.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:     float64(mem.Sys) / 1024 / 1024,
		GCCount:         mem.NumGC,
	}
}

// HeartbeatWriter periodically records liveness for one named worker into
// the worker_heartbeats table. The reconciliation service registers itself
// as "margin-api"; a long-lived agent process can register its own name
// against the same observability database.
type HeartbeatWriter struct {
	db     *sql.DB
	worker string
	host   string
	pid    int
	every  time.Duration
	log    *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// HeartbeatOption configures a HeartbeatWriter.
type HeartbeatOption func(*HeartbeatWriter)

// WithHeartbeatLogger overrides the default slog logger.
func WithHeartbeatLogger(l *slog.Logger) HeartbeatOption {
	return func(hw *HeartbeatWriter) { hw.log = l }
}

// NewHeartbeatWriter creates a writer that beats once per interval.
func NewHeartbeatWriter(db *sql.DB, worker string, every time.Duration, opts ...HeartbeatOption) *HeartbeatWriter {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	hw := &HeartbeatWriter{
		db:     db,
		worker: worker,
		host:   host,
		pid:    os.Getpid(),
		every:  every,
		log:    slog.Default(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(hw)
	}
	return hw
}

// Start launches the heartbeat loop: one beat immediately, then one per
// interval until Stop or context cancellation.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	go hw.run(ctx)
}

// Stop signals the loop to exit and waits for it.
func (hw *HeartbeatWriter) Stop() {
	close(hw.stop)
	<-hw.done
}

// WriteHeartbeat records a single beat with current runtime metrics. The
// insert takes the busy-retry path: the heartbeat shares its database with
// the request and event logs.
func (hw *HeartbeatWriter) WriteHeartbeat(ctx context.Context) error {
	m := CollectRuntimeMetrics()
	_, err := dbopen.Exec(ctx, hw.db, `
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?)`,
		hw.worker, hw.host, hw.pid, time.Now().Unix(),
		m.GoroutinesCount, m.MemoryAllocMB, m.MemorySysMB, m.GCCount)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	return nil
}

func (hw *HeartbeatWriter) run(ctx context.Context) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.every)
	defer ticker.Stop()

	// First beat fires immediately so a fresh process shows up alive
	// without waiting out a full interval.
	if err := hw.WriteHeartbeat(ctx); err != nil {
		hw.log.Error("heartbeat write failed", "error", err, "worker", hw.worker)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
			if err := hw.WriteHeartbeat(ctx); err != nil {
				hw.log.Error("heartbeat write failed", "error", err, "worker", hw.worker)
			}
		}
	}
}

// HeartbeatStatus is the latest heartbeat for a worker with the staleness
// verdict already computed, ready to serve from a health endpoint.
type HeartbeatStatus struct {
	WorkerName      string         `json:"worker_name"`
	Hostname        string         `json:"hostname"`
	PID             int            `json:"pid"`
	Timestamp       time.Time      `json:"timestamp"`
	GoroutinesCount int            `json:"goroutines_count"`
	MemoryAllocMB   float64        `json:"memory_alloc_mb"`
	MemorySysMB     float64        `json:"memory_sys_mb"`
	GCCount         int            `json:"gc_count"`
	Alive           bool           `json:"alive"`
	StaleSince      *time.Duration `json:"stale_since,omitempty"`
}

// LatestHeartbeat returns the most recent beat for the given worker, or
// nil, nil when none has been recorded. A beat older than staleAfter is
// reported not alive; 3x the write interval is a reasonable threshold.
func LatestHeartbeat(ctx context.Context, db *sql.DB, worker string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp,
		       goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		FROM worker_heartbeats
		WHERE worker_name = ?
		ORDER BY timestamp DESC LIMIT 1`, worker)

	var hs HeartbeatStatus
	var ts int64
	err := row.Scan(&hs.WorkerName, &hs.Hostname, &hs.PID, &ts,
		&hs.GoroutinesCount, &hs.MemoryAllocMB, &hs.MemorySysMB, &hs.GCCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}

	hs.Timestamp = time.Unix(ts, 0)
	age := time.Since(hs.Timestamp)
	hs.Alive = age <= staleAfter
	if !hs.Alive {
		stale := age - staleAfter
		hs.StaleSince = &stale
	}
	return &hs, nil
}
