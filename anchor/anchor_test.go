package anchor

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const fixtureHTML = `<html><head><title>Fixture</title></head><body>` +
	`<p id="intro">The quick brown fox jumps over the lazy dog.</p>` +
	`<p>Second paragraph with <strong>bold text</strong> inside it.</p>` +
	`<div class="widget" data-role="panel">Widget content</div>` +
	`</body></html>`

func parseFixture(t *testing.T, src string) *Page {
	t.Helper()
	p, err := ParseString(src)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func textNodeCount(root *html.Node) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return count
}

// --- text resolution ---

func TestResolveText_Tier1(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	res := r.ResolveText(p, TextRange{
		StartXPath:   "/html/body/p[1]/text()",
		EndXPath:     "/html/body/p[1]/text()",
		StartOffset:  4,
		EndOffset:    19,
		SelectedText: "quick brown fox",
	})

	if res.Tier != TierExact {
		t.Fatalf("tier: got %v, want exact", res.Tier)
	}
	if got := res.Text(); got != "quick brown fox" {
		t.Fatalf("text: got %q", got)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("segments: got %d", len(res.Segments))
	}
}

func TestResolveText_Tier1_ElementEndpoint(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	// Endpoint XPath recorded on the element whose sole child is the text node.
	res := r.ResolveText(p, TextRange{
		StartXPath:  "/html/body/p[1]",
		EndXPath:    "/html/body/p[1]",
		StartOffset: 0,
		EndOffset:   3,
	})

	if res.Tier != TierExact {
		t.Fatalf("tier: got %v, want exact", res.Tier)
	}
	if got := res.Text(); got != "The" {
		t.Fatalf("text: got %q", got)
	}
}

func TestResolveText_Tier1_OffsetOutOfBounds(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	res := r.ResolveText(p, TextRange{
		StartXPath:  "/html/body/p[1]/text()",
		EndXPath:    "/html/body/p[1]/text()",
		StartOffset: 0,
		EndOffset:   9999,
	})

	if res.Tier == TierExact {
		t.Fatal("out-of-bounds offset must not resolve structurally")
	}
}

func TestResolveText_Tier2_BrokenXPath(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	res := r.ResolveText(p, TextRange{
		StartXPath:    "/html/body/div[99]/p/text()",
		EndXPath:      "/html/body/div[99]/p/text()",
		StartOffset:   0,
		EndOffset:     15,
		SelectedText:  "quick brown fox",
		ContextBefore: "The ",
		ContextAfter:  " jumps",
	})

	if res.Tier != TierContext {
		t.Fatalf("tier: got %v, want context", res.Tier)
	}
	if got := res.Text(); got != "quick brown fox" {
		t.Fatalf("text: got %q", got)
	}
}

func TestResolveText_Tier2_WhitespaceNormalized(t *testing.T) {
	reflowed := `<html><body><p>The quick` + "\n   " + `brown fox jumps over it.</p></body></html>`
	p := parseFixture(t, reflowed)
	r := NewResolver()

	res := r.ResolveText(p, TextRange{
		StartXPath:    "/html/body/div[99]/text()",
		EndXPath:      "/html/body/div[99]/text()",
		SelectedText:  "quick brown fox",
		ContextBefore: "The ",
		ContextAfter:  " jumps",
	})

	if res.Tier != TierContext {
		t.Fatalf("tier: got %v, want context", res.Tier)
	}
	if !strings.Contains(res.Text(), "brown fox") {
		t.Fatalf("text: got %q", res.Text())
	}
}

func TestResolveText_Tier2_NormalizationDisabled(t *testing.T) {
	reflowed := `<html><body><p>The quick` + "\n   " + `brown fox jumps over it.</p></body></html>`
	p := parseFixture(t, reflowed)
	r := NewResolver(WithWhitespaceNormalization(false))

	res := r.ResolveText(p, TextRange{
		SelectedText:  "quick brown fox",
		ContextBefore: "The ",
		ContextAfter:  " jumps",
	})

	if !res.Orphaned() {
		t.Fatalf("tier: got %v, want orphaned", res.Tier)
	}
}

func TestResolveText_Tier2_ContextMismatch(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	res := r.ResolveText(p, TextRange{
		SelectedText:  "quick brown fox",
		ContextBefore: "A completely different prefix ",
		ContextAfter:  " jumps",
	})

	if !res.Orphaned() {
		t.Fatalf("tier: got %v, want orphaned", res.Tier)
	}
}

func TestResolveText_Orphaned(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	res := r.ResolveText(p, TextRange{
		StartXPath:   "/html/body/article/text()",
		EndXPath:     "/html/body/article/text()",
		SelectedText: "text that never existed on this page",
	})

	if !res.Orphaned() {
		t.Fatalf("tier: got %v, want orphaned", res.Tier)
	}
	if len(res.Segments) != 0 {
		t.Fatal("orphaned resolution must carry no segments")
	}
}

// --- element resolution ---

func TestResolveElement_CSS(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	res := r.ResolveElement(p, ElementSelector{
		CSSSelector: "div.widget",
		TagName:     "DIV",
	})

	if res.Tier != TierExact {
		t.Fatalf("tier: got %v, want exact", res.Tier)
	}
	if res.Element == nil || res.Element.Data != "div" {
		t.Fatalf("element: got %v", res.Element)
	}
}

func TestResolveElement_XPathFallback(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	res := r.ResolveElement(p, ElementSelector{
		CSSSelector: "div.renamed-class",
		XPath:       "//div[@data-role='panel']",
		TagName:     "DIV",
	})

	if res.Tier != TierExact {
		t.Fatalf("tier: got %v, want exact", res.Tier)
	}
}

func TestResolveElement_TagMismatch(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	res := r.ResolveElement(p, ElementSelector{
		CSSSelector: "div.widget",
		TagName:     "SPAN",
	})

	if !res.Orphaned() {
		t.Fatalf("tier: got %v, want orphaned", res.Tier)
	}
}

func TestResolveElement_AmbiguousSelector(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	// "p" matches two elements; ambiguity never resolves.
	res := r.ResolveElement(p, ElementSelector{
		CSSSelector: "p",
		TagName:     "P",
	})

	if !res.Orphaned() {
		t.Fatalf("tier: got %v, want orphaned", res.Tier)
	}
}

// --- highlighting ---

func TestHighlight_CrossElementSelection(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()
	before := textNodeCount(p.Doc())

	// Spans the <strong> boundary: three text-node segments, one id.
	res := r.ResolveText(p, TextRange{
		SelectedText: "with bold text inside",
	})
	if res.Orphaned() {
		t.Fatal("selection should resolve")
	}
	if len(res.Segments) != 3 {
		t.Fatalf("segments: got %d, want 3", len(res.Segments))
	}

	marks := p.Highlight("ann_1", res)
	if marks != 3 {
		t.Fatalf("marks created: got %d, want 3", marks)
	}
	if got := len(p.Marks("ann_1")); got != 3 {
		t.Fatalf("marks found: got %d, want 3", got)
	}

	removed := p.RemoveHighlight("ann_1")
	if removed != 3 {
		t.Fatalf("marks removed: got %d, want 3", removed)
	}
	if got := textNodeCount(p.Doc()); got != before {
		t.Fatalf("text node count: got %d, want %d", got, before)
	}
	if len(p.Marks("ann_1")) != 0 {
		t.Fatal("marks remain after removal")
	}
}

func TestHighlight_RoundTripRestoresDocument(t *testing.T) {
	p := parseFixture(t, `<html><head></head><body><p>Hello brave new world</p></body></html>`)
	r := NewResolver()

	original, err := p.Render()
	if err != nil {
		t.Fatal(err)
	}

	res := r.ResolveText(p, TextRange{SelectedText: "brave new"})
	if res.Orphaned() {
		t.Fatal("selection should resolve")
	}
	p.Highlight("ann_rt", res)

	highlighted, _ := p.Render()
	if !strings.Contains(highlighted, `<mark data-margin-id="ann_rt">brave new</mark>`) {
		t.Fatalf("highlighted render: %s", highlighted)
	}

	p.RemoveHighlight("ann_rt")
	restored, _ := p.Render()
	if restored != original {
		t.Fatalf("render mismatch after removal:\n got: %s\nwant: %s", restored, original)
	}
}

func TestHighlight_Element(t *testing.T) {
	p := parseFixture(t, fixtureHTML)
	r := NewResolver()

	res := r.ResolveElement(p, ElementSelector{CSSSelector: "div.widget", TagName: "DIV"})
	if n := p.Highlight("ann_el", res); n != 1 {
		t.Fatalf("marks: got %d, want 1", n)
	}

	rendered, _ := p.Render()
	if !strings.Contains(rendered, `data-margin-id="ann_el"`) {
		t.Fatal("element not tagged")
	}

	if removed := p.RemoveHighlight("ann_el"); removed != 1 {
		t.Fatalf("removed: got %d, want 1", removed)
	}
	rendered, _ = p.Render()
	if strings.Contains(rendered, "data-margin-id") {
		t.Fatal("attribute remains after removal")
	}
}

func TestHighlight_OrphanedIsNoOp(t *testing.T) {
	p := parseFixture(t, fixtureHTML)

	if n := p.Highlight("ann_x", Resolution{Tier: TierOrphaned}); n != 0 {
		t.Fatalf("orphaned highlight created %d marks", n)
	}
	if len(p.Marks("ann_x")) != 0 {
		t.Fatal("orphaned highlight must not touch the DOM")
	}
}

// --- xpath evaluation ---

func TestEvaluateXPath_Positional(t *testing.T) {
	p := parseFixture(t, fixtureHTML)

	matches := evaluateXPath(p.Doc(), "/html/body/p[2]")
	if len(matches) != 1 {
		t.Fatalf("matches: got %d", len(matches))
	}
	if id := getAttr(matches[0], "id"); id != "" {
		t.Fatalf("expected second paragraph, got id=%q", id)
	}
}

func TestEvaluateXPath_AttributePredicate(t *testing.T) {
	p := parseFixture(t, fixtureHTML)

	matches := evaluateXPath(p.Doc(), "//p[@id='intro']")
	if len(matches) != 1 {
		t.Fatalf("matches: got %d", len(matches))
	}
}

func TestEvaluateXPath_TextStep(t *testing.T) {
	p := parseFixture(t, fixtureHTML)

	matches := evaluateXPath(p.Doc(), "/html/body/p[2]/text()[2]")
	if len(matches) != 1 {
		t.Fatalf("matches: got %d", len(matches))
	}
	if matches[0].Data != " inside it." {
		t.Fatalf("text: got %q", matches[0].Data)
	}
}

// --- whitespace normalization ---

func TestNormalizeWS(t *testing.T) {
	norm, idx := normalizeWS("a\n\t  b  c")
	if norm != "a b c" {
		t.Fatalf("normalized: got %q", norm)
	}
	if idx[0] != 0 || idx[2] != 5 {
		t.Fatalf("index map: got %v", idx)
	}
}
