// Package browser acquires page HTML for the sync agent: a plain HTTP GET
// first, escalating to a headless browser only when the response looks like
// a JS-rendered shell. The returned HTML feeds anchor.ParseString.
package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Loader fetches page HTML.
type Loader struct {
	client   *http.Client
	ua       string
	escalate bool
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(l *Loader) { l.ua = ua }
}

// WithEscalation enables the headless-browser fallback.
func WithEscalation(enabled bool) Option {
	return func(l *Loader) { l.escalate = enabled }
}

// WithTimeout bounds each acquisition attempt.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) { l.timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) { l.logger = log }
}

// New creates a Loader with sensible defaults. Escalation is off unless
// enabled via WithEscalation.
func New(opts ...Option) *Loader {
	l := &Loader{
		client:  &http.Client{Timeout: 30 * time.Second},
		ua:      "Mozilla/5.0 (compatible; Margin/1.0)",
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Acquire returns the page's HTML. The HTTP path covers static sites; when
// the body looks like an SPA shell and escalation is enabled, the page is
// rendered in a headless browser instead.
func (l *Loader) Acquire(ctx context.Context, pageURL string) (string, error) {
	body, err := l.fetchHTTP(ctx, pageURL)
	if err != nil {
		return "", err
	}
	if isRenderedEnough(body) {
		return string(body), nil
	}
	if !l.escalate {
		l.logger.Warn("page looks JS-rendered, escalation disabled", "url", pageURL)
		return string(body), nil
	}
	l.logger.Info("escalating to headless browser", "url", pageURL)
	return l.renderBrowser(ctx, pageURL)
}

func (l *Loader) fetchHTTP(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("browser: new request: %w", err)
	}
	req.Header.Set("User-Agent", l.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser: get %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("browser: get %s: status %d", pageURL, resp.StatusCode)
	}

	// Cap the read to keep a misbehaving endpoint from running away.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("browser: read body: %w", err)
	}

	l.logger.Debug("fetched", "url", pageURL, "status", resp.StatusCode, "size", len(body))
	return body, nil
}
