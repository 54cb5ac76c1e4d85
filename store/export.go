package store

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Export renders the full store as Markdown: a point-in-time snapshot,
// fetch-then-render. Output is byte-deterministic for a fixed snapshot
// except the embedded timestamp.
func (s *Store) Export() string {
	return renderMarkdown(s.snapshot(), time.Now().UTC())
}

func renderMarkdown(doc Document, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Review Annotations\n\n")
	fmt.Fprintf(&b, "Exported: %s\n\n", now.Format(time.RFC3339))

	if len(doc.Annotations) == 0 && len(doc.PageNotes) == 0 {
		b.WriteString("No annotations or notes yet.\n")
		return b.String()
	}

	pages := collectPages(doc)
	for pi, page := range pages {
		if pi > 0 {
			b.WriteString("---\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", pagePath(page.url))

		if len(page.textAnns) > 0 {
			b.WriteString("### Text Annotations\n\n")
			for i, a := range page.textAnns {
				fmt.Fprintf(&b, "%d. **%q**%s\n", i+1, a.SelectedText, lifecycleSuffix(a))
				writeNoteAndReplies(&b, a)
			}
			b.WriteString("\n")
		}

		if len(page.elementAnns) > 0 {
			b.WriteString("### Element Annotations\n\n")
			for i, a := range page.elementAnns {
				fmt.Fprintf(&b, "%d. %s%s\n", i+1, elementDescription(a), lifecycleSuffix(a))
				writeNoteAndReplies(&b, a)
			}
			b.WriteString("\n")
		}

		if len(page.notes) > 0 {
			b.WriteString("### Page Notes\n\n")
			for _, n := range page.notes {
				fmt.Fprintf(&b, "- %s\n", n.Text)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func writeNoteAndReplies(b *strings.Builder, a Annotation) {
	if a.Note != "" {
		fmt.Fprintf(b, "   > %s\n", a.Note)
	}
	replies := append([]Reply{}, a.Replies...)
	sort.SliceStable(replies, func(i, j int) bool {
		return replies[i].CreatedAt < replies[j].CreatedAt
	})
	for _, r := range replies {
		fmt.Fprintf(b, "   > **Agent:** %s\n", r.Message)
	}
}

// lifecycleSuffix renders the heading marker. Legacy resolvedAt records keep
// their original marker; status-scheme records render as addressed.
func lifecycleSuffix(a Annotation) string {
	if a.ResolvedAt != "" {
		return " ✅ [Resolved]"
	}
	if a.Status == StatusAddressed {
		return " 🔧 [Addressed]"
	}
	return ""
}

func elementDescription(a Annotation) string {
	if a.ElementSelector != nil && a.ElementSelector.Description != "" {
		return a.ElementSelector.Description
	}
	return "element"
}

// pageGroup holds one page's records in render order: createdAt, then id.
type pageGroup struct {
	url         string
	textAnns    []Annotation
	elementAnns []Annotation
	notes       []PageNote
}

func collectPages(doc Document) []*pageGroup {
	groups := make(map[string]*pageGroup)
	get := func(u string) *pageGroup {
		g, ok := groups[u]
		if !ok {
			g = &pageGroup{url: u}
			groups[u] = g
		}
		return g
	}

	for _, a := range doc.Annotations {
		g := get(a.PageURL)
		if a.Type == TypeElement {
			g.elementAnns = append(g.elementAnns, a)
		} else {
			g.textAnns = append(g.textAnns, a)
		}
	}
	for _, n := range doc.PageNotes {
		g := get(n.PageURL)
		g.notes = append(g.notes, n)
	}

	out := make([]*pageGroup, 0, len(groups))
	for _, g := range groups {
		sortAnnotations(g.textAnns)
		sortAnnotations(g.elementAnns)
		sort.SliceStable(g.notes, func(i, j int) bool {
			if g.notes[i].CreatedAt != g.notes[j].CreatedAt {
				return g.notes[i].CreatedAt < g.notes[j].CreatedAt
			}
			return g.notes[i].ID < g.notes[j].ID
		})
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].url < out[j].url })
	return out
}

func sortAnnotations(anns []Annotation) {
	sort.SliceStable(anns, func(i, j int) bool {
		if anns[i].CreatedAt != anns[j].CreatedAt {
			return anns[i].CreatedAt < anns[j].CreatedAt
		}
		return anns[i].ID < anns[j].ID
	})
}

// pagePath renders a page heading: the URL path when parseable, the raw
// string otherwise.
func pagePath(raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}
