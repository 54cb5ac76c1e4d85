// Entry point for the margin reconciliation service — chi router, JSON file
// store, SQLite request/event logs, optional MCP over stdio.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/margin/api"
	"github.com/hazyhaar/margin/dbopen"
	"github.com/hazyhaar/margin/observability"
	"github.com/hazyhaar/margin/shield"
	"github.com/hazyhaar/margin/store"
)

func main() {
	port := env("PORT", "8787")
	storePath := env("STORE_PATH", "data/annotations.json")
	obsPath := env("OBS_DB", "db/observability.db")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Observability DB.
	obsDB, err := dbopen.Open(obsPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	events := observability.NewEventLogger(obsDB)

	// Liveness heartbeat + nightly retention sweep.
	hb := observability.NewHeartbeatWriter(obsDB, "margin-api", time.Minute)
	hb.Start(ctx)
	defer hb.Stop()
	go retentionLoop(ctx, obsDB)

	// Annotation store.
	if dir := filepath.Dir(storePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("store dir", "error", err)
			os.Exit(1)
		}
	}
	st, err := store.Open(storePath, store.WithLogger(logger))
	if err != nil {
		slog.Error("store open", "error", err)
		os.Exit(1)
	}

	svc := api.NewService(st, api.WithEventLogger(events), api.WithLogger(logger))

	// Optional MCP over stdio, for running under an agent harness.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "margin",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Use(observability.RequestLogger(obsDB))
	svc.RegisterHTTP(r)

	// Liveness endpoint backed by the latest heartbeat row.
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		hs, err := observability.LatestHeartbeat(req.Context(), obsDB, "margin-api", 3*time.Minute)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if hs == nil || !hs.Alive {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(hs)
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port, "store", storePath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// retentionLoop runs the observability cleanup once a day.
func retentionLoop(ctx context.Context, db *sql.DB) {
	cfg := observability.RetentionConfig{
		HTTPLogsDays:   14,
		EventLogsDays:  30,
		HeartbeatsDays: 7,
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := observability.Cleanup(ctx, db, cfg); err != nil {
				slog.Warn("retention cleanup", "error", err)
			}
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
