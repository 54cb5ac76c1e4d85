package anchor

import (
	"strings"

	"golang.org/x/net/html"
)

// Resolver relocates stored anchors in a parsed document. Tiers run in
// strict order and never mix: structural first, context second, orphaned
// last. Resolution never returns an error.
type Resolver struct {
	normalizeWhitespace bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithWhitespaceNormalization toggles the whitespace-tolerant pass of the
// context tier. Enabled by default: runs of whitespace collapse to a single
// space on both sides before comparing, tolerating markup reflow.
func WithWhitespaceNormalization(enabled bool) ResolverOption {
	return func(r *Resolver) { r.normalizeWhitespace = enabled }
}

// NewResolver creates a resolver with default matching rules.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{normalizeWhitespace: true}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveText locates a text anchor. Tier 1 evaluates the stored XPath
// endpoints; tier 2 relocates the selected text by its recorded context;
// both failing yields an orphaned resolution.
func (r *Resolver) ResolveText(p *Page, tr TextRange) Resolution {
	ix := buildTextIndex(p.doc)

	if res, ok := resolveStructural(ix, p.doc, tr); ok {
		return res
	}
	if res, ok := r.resolveContext(ix, tr); ok {
		return res
	}
	return orphaned()
}

// ResolveElement locates an element anchor. The CSS selector must match
// exactly one element whose tag equals the recorded tagName; the recorded
// XPath is tried when the selector fails. There is no context tier for
// elements.
func (r *Resolver) ResolveElement(p *Page, sel ElementSelector) Resolution {
	if sel.CSSSelector != "" {
		matches := querySelectorAll(p.doc, sel.CSSSelector)
		if len(matches) == 1 && tagMatches(matches[0], sel.TagName) {
			return Resolution{Tier: TierExact, Element: matches[0]}
		}
	}
	if sel.XPath != "" {
		matches := evaluateXPath(p.doc, sel.XPath)
		if len(matches) == 1 && matches[0].Type == html.ElementNode && tagMatches(matches[0], sel.TagName) {
			return Resolution{Tier: TierExact, Element: matches[0]}
		}
	}
	return orphaned()
}

// tagMatches compares case-insensitively: browsers record tag names
// uppercase while the parser lowercases them.
func tagMatches(n *html.Node, tag string) bool {
	return tag == "" || strings.EqualFold(n.Data, tag)
}

// resolveStructural is tier 1: both XPath endpoints must resolve to
// existing text nodes with offsets within node bounds and in document order.
func resolveStructural(ix *textIndex, doc *html.Node, tr TextRange) (Resolution, bool) {
	start, ok := resolveTextPoint(doc, tr.StartXPath, tr.StartOffset)
	if !ok {
		return Resolution{}, false
	}
	end, ok := resolveTextPoint(doc, tr.EndXPath, tr.EndOffset)
	if !ok {
		return Resolution{}, false
	}

	fs, ok := ix.flatOffset(start)
	if !ok {
		return Resolution{}, false
	}
	fe, ok := ix.flatOffset(end)
	if !ok || fs >= fe {
		return Resolution{}, false
	}
	return resolutionFromFlat(ix, TierExact, fs, fe)
}

// resolveTextPoint evaluates an endpoint XPath to a single text node.
// An XPath landing on an element whose sole child is a text node is
// accepted as pointing at that child (browsers record either form).
func resolveTextPoint(doc *html.Node, xpath string, offset int) (Point, bool) {
	if xpath == "" || offset < 0 {
		return Point{}, false
	}
	matches := evaluateXPath(doc, xpath)
	if len(matches) != 1 {
		return Point{}, false
	}
	n := matches[0]
	if n.Type == html.ElementNode {
		if n.FirstChild == nil || n.FirstChild != n.LastChild || n.FirstChild.Type != html.TextNode {
			return Point{}, false
		}
		n = n.FirstChild
	}
	if n.Type != html.TextNode || offset > len(n.Data) {
		return Point{}, false
	}
	return Point{Node: n, Offset: offset}, true
}

// resolveContext is tier 2: search the flattened text for an occurrence of
// the selected text whose neighbourhood equals the recorded context. Exact
// comparison first, then the whitespace-normalized pass when enabled.
func (r *Resolver) resolveContext(ix *textIndex, tr TextRange) (Resolution, bool) {
	fs, fe, ok := findExact(ix.text, tr.SelectedText, tr.ContextBefore, tr.ContextAfter)
	if !ok && r.normalizeWhitespace {
		fs, fe, ok = findNormalized(ix.text, tr.SelectedText, tr.ContextBefore, tr.ContextAfter)
	}
	if !ok {
		return Resolution{}, false
	}
	return resolutionFromFlat(ix, TierContext, fs, fe)
}

func resolutionFromFlat(ix *textIndex, tier Tier, fs, fe int) (Resolution, bool) {
	segs := ix.segments(fs, fe)
	if len(segs) == 0 {
		return Resolution{}, false
	}
	first, last := segs[0], segs[len(segs)-1]
	return Resolution{
		Tier:     tier,
		Start:    Point{Node: first.Node, Offset: first.Start},
		End:      Point{Node: last.Node, Offset: last.End},
		Segments: segs,
	}, true
}
