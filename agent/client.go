package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/margin/store"
)

// Client talks to the reconciliation service. 404 responses map to
// store.ErrNotFound so callers keep a single error taxonomy.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListAnnotations fetches annotations, page-filtered when pageURL is set.
func (c *Client) ListAnnotations(ctx context.Context, pageURL string) ([]store.Annotation, error) {
	var out []store.Annotation
	if err := c.do(ctx, http.MethodGet, "/api/annotations"+pageQuery(pageURL), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAnnotation persists a new annotation and returns the acknowledged
// record with its server-minted id.
func (c *Client) CreateAnnotation(ctx context.Context, a store.Annotation) (store.Annotation, error) {
	var out store.Annotation
	if err := c.do(ctx, http.MethodPost, "/api/annotations", a, &out); err != nil {
		return store.Annotation{}, err
	}
	return out, nil
}

// UpdateAnnotation merge-patches an annotation.
func (c *Client) UpdateAnnotation(ctx context.Context, id string, patch map[string]json.RawMessage) (store.Annotation, error) {
	var out store.Annotation
	if err := c.do(ctx, http.MethodPatch, "/api/annotations/"+id, patch, &out); err != nil {
		return store.Annotation{}, err
	}
	return out, nil
}

// DeleteAnnotation hard-deletes an annotation.
func (c *Client) DeleteAnnotation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/annotations/"+id, nil, nil)
}

// ListPageNotes fetches page notes, page-filtered when pageURL is set.
func (c *Client) ListPageNotes(ctx context.Context, pageURL string) ([]store.PageNote, error) {
	var out []store.PageNote
	if err := c.do(ctx, http.MethodGet, "/api/page-notes"+pageQuery(pageURL), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePageNote persists a new page note.
func (c *Client) CreatePageNote(ctx context.Context, n store.PageNote) (store.PageNote, error) {
	var out store.PageNote
	if err := c.do(ctx, http.MethodPost, "/api/page-notes", n, &out); err != nil {
		return store.PageNote{}, err
	}
	return out, nil
}

// DeletePageNote hard-deletes a page note.
func (c *Client) DeletePageNote(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/page-notes/"+id, nil, nil)
}

// Fingerprint fetches the store's change token.
func (c *Client) Fingerprint(ctx context.Context) (Fingerprint, error) {
	var out struct {
		Count      int    `json:"count"`
		MaxUpdated string `json:"maxUpdated"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/fingerprint", nil, &out); err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Count: out.Count, MaxUpdated: out.MaxUpdated}, nil
}

// Export fetches the Markdown review document.
func (c *Client) Export(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/export", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("export: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	return string(raw), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: marshal: %w", method, path, err)
		}
		buf = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %s: %w", method, path, e.Error, store.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

func pageQuery(pageURL string) string {
	if pageURL == "" {
		return ""
	}
	return "?page=" + url.QueryEscape(pageURL)
}
