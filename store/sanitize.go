package store

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
)

// previewPolicy strips scripts, event handlers and other active content
// from client-supplied element previews before they are persisted.
var previewPolicy = bluemonday.UGCPolicy()

func sanitizePreview(preview string) string {
	if preview == "" {
		return ""
	}
	return previewPolicy.Sanitize(preview)
}

// deriveDescription builds a short human-readable description for an
// element annotation from its sanitized preview when the client sent none.
func deriveDescription(preview, tagName string) string {
	tag := "element"
	if tagName != "" {
		tag = "<" + strings.ToLower(tagName) + ">"
	}

	md, err := htmltomarkdown.ConvertString(preview)
	if err != nil {
		return tag
	}
	text := strings.TrimSpace(md)
	if text == "" {
		return tag
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if runes := []rune(text); len(runes) > 80 {
		text = string(runes[:80]) + "…"
	}
	return tag + " " + text
}
