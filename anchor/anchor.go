// Package anchor locates stored annotations in a parsed HTML document.
//
// An anchor records where an annotation lives: a TextRange snapshots the
// XPath endpoints and surrounding text of a selection, an ElementSelector
// snapshots how to find a single element. The Resolver turns an anchor back
// into live document positions using a strict three-tier fallback:
// structural match, context match, orphaned. Resolution never fails with an
// error; an anchor that cannot be located degrades to orphaned and stays
// listed.
package anchor

import "golang.org/x/net/html"

// TextRange anchors a text selection. The XPath endpoints are the primary
// anchor; selectedText plus contextBefore/contextAfter are the snapshot the
// context tier falls back to when the document structure has shifted.
type TextRange struct {
	StartXPath    string `json:"startXPath"`
	EndXPath      string `json:"endXPath"`
	StartOffset   int    `json:"startOffset"`
	EndOffset     int    `json:"endOffset"`
	SelectedText  string `json:"selectedText"`
	ContextBefore string `json:"contextBefore"`
	ContextAfter  string `json:"contextAfter"`
}

// ElementSelector anchors a whole element. The CSS selector is tried first;
// the recorded XPath is the structural fallback. TagName guards against a
// selector that now matches a different kind of element.
type ElementSelector struct {
	CSSSelector      string            `json:"cssSelector"`
	XPath            string            `json:"xpath"`
	TagName          string            `json:"tagName"`
	Description      string            `json:"description"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	OuterHTMLPreview string            `json:"outerHtmlPreview,omitempty"`
}

// Tier identifies how an anchor was resolved.
type Tier int

const (
	// TierExact means the structural anchor (XPath/CSS) still matched.
	TierExact Tier = iota + 1
	// TierContext means the selected text was relocated by its surrounding
	// context after the structural anchor failed.
	TierContext
	// TierOrphaned means no tier matched. The annotation stays listed but
	// is never rendered as a highlight.
	TierOrphaned
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierContext:
		return "context"
	case TierOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Point is a position inside a text node.
type Point struct {
	Node   *html.Node
	Offset int
}

// Segment is a contiguous slice of a single text node covered by a resolved
// range. A selection spanning element boundaries yields one Segment per
// text node it touches.
type Segment struct {
	Node  *html.Node
	Start int
	End   int
}

// Text returns the covered slice of the segment's text node.
func (s Segment) Text() string {
	return s.Node.Data[s.Start:s.End]
}

// Resolution is the tagged result of resolving an anchor. Exactly one tier
// is set; callers switch on Tier instead of probing fields.
type Resolution struct {
	Tier     Tier
	Start    Point
	End      Point
	Element  *html.Node
	Segments []Segment
}

// Orphaned reports whether the anchor could not be located.
func (r Resolution) Orphaned() bool { return r.Tier == TierOrphaned }

// Text returns the full text covered by the resolved segments.
func (r Resolution) Text() string {
	var out string
	for _, s := range r.Segments {
		out += s.Text()
	}
	return out
}

func orphaned() Resolution {
	return Resolution{Tier: TierOrphaned}
}
