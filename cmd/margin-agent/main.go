// Entry point for the margin sync agent: acquires the page, attaches the
// annotation layer, and keeps it in sync with the reconciliation service
// until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/margin/agent"
	"github.com/hazyhaar/margin/anchor"
	"github.com/hazyhaar/margin/browser"
)

func main() {
	configPath := flag.String("config", "margin-agent.yaml", "path to the YAML config file")
	pageURL := flag.String("page", "", "page URL (overrides page_url in config)")
	flag.Parse()

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	if *pageURL != "" {
		cfg.PageURL = *pageURL
	}
	if cfg.PageURL == "" {
		slog.Error("page_url is required (config or -page flag)")
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Acquire the page: HTTP first, headless render when it looks JS-built.
	loader := browser.New(
		browser.WithEscalation(cfg.Browser.Escalate),
		browser.WithTimeout(cfg.Browser.Timeout),
		browser.WithLogger(logger),
	)
	pageHTML, err := loader.Acquire(ctx, cfg.PageURL)
	if err != nil {
		slog.Error("acquire page", "url", cfg.PageURL, "error", err)
		os.Exit(1)
	}
	page, err := anchor.ParseString(pageHTML)
	if err != nil {
		slog.Error("parse page", "error", err)
		os.Exit(1)
	}

	ag := agent.New(agent.NewClient(cfg.ServerURL), cfg.CacheDir,
		agent.WithClearConfirmWindow(cfg.ClearAll.ConfirmWindow),
		agent.WithAgentLogger(logger),
	)
	if err := ag.Attach(ctx, cfg.PageURL, page); err != nil {
		slog.Error("attach", "error", err)
		os.Exit(1)
	}
	slog.Info("attached", "page", cfg.PageURL, "badge", ag.Badge(), "state", ag.State().String())

	poller := agent.NewPoller(ag.Detector(), agent.PollerOptions{
		Interval: cfg.Poll.Interval,
		Debounce: cfg.Poll.Debounce,
		Logger:   logger,
	})
	poller.Run(ctx, func() error {
		return ag.HandleChange(ctx)
	})

	stats := poller.Stats()
	slog.Info("agent stopped",
		"checks", stats.Checks,
		"changes", stats.ChangesDetected,
		"refreshes", stats.Refreshes,
		"errors", stats.Errors)
}
