package anchor

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// MarkAttr is the data attribute carrying the annotation ID on highlight
// marks. State rides on data attributes only; there is no CSS class contract.
const MarkAttr = "data-margin-id"

// Page is a parsed HTML document that anchors resolve against and
// highlights apply to.
type Page struct {
	doc *html.Node
}

// Parse reads and parses an HTML document.
func Parse(r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Page{doc: doc}, nil
}

// ParseString parses an HTML document from a string.
func ParseString(s string) (*Page, error) {
	return Parse(strings.NewReader(s))
}

// Doc exposes the document root.
func (p *Page) Doc() *html.Node { return p.doc }

// Render serializes the document back to HTML.
func (p *Page) Render() (string, error) {
	var b strings.Builder
	if err := html.Render(&b, p.doc); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Highlight applies a resolved anchor to the document under the given
// annotation id and returns the number of marks created. A text resolution
// spanning N text-node segments produces N <mark> wrappers sharing the id;
// an element resolution tags the element itself. Orphaned resolutions are
// a no-op.
func (p *Page) Highlight(id string, res Resolution) int {
	if res.Orphaned() {
		return 0
	}
	if res.Element != nil {
		if getAttr(res.Element, MarkAttr) == "" {
			res.Element.Attr = append(res.Element.Attr, html.Attribute{Key: MarkAttr, Val: id})
		}
		return 1
	}
	for _, seg := range res.Segments {
		wrapSegment(seg, id)
	}
	return len(res.Segments)
}

// wrapSegment splits a text node around the segment and wraps the covered
// slice in a <mark> element.
func wrapSegment(seg Segment, id string) {
	n := seg.Node
	parent := n.Parent
	data := n.Data

	mark := &html.Node{
		Type: html.ElementNode,
		Data: "mark",
		Attr: []html.Attribute{{Key: MarkAttr, Val: id}},
	}
	mark.AppendChild(&html.Node{Type: html.TextNode, Data: data[seg.Start:seg.End]})

	if seg.Start > 0 {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: data[:seg.Start]}, n)
	}
	parent.InsertBefore(mark, n)
	if seg.End < len(data) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: data[seg.End:]}, n)
	}
	parent.RemoveChild(n)
}

// RemoveHighlight removes every mark carrying the given annotation id and
// merges now-adjacent text nodes, returning the DOM to its pre-annotation
// text-node count. Returns the number of marks removed.
func (p *Page) RemoveHighlight(id string) int {
	marks := p.Marks(id)
	parents := make(map[*html.Node]bool)

	for _, n := range marks {
		if n.Data == "mark" {
			parent := n.Parent
			for c := n.FirstChild; c != nil; {
				next := c.NextSibling
				n.RemoveChild(c)
				parent.InsertBefore(c, n)
				c = next
			}
			parent.RemoveChild(n)
			parents[parent] = true
		} else {
			removeAttr(n, MarkAttr)
		}
	}

	for parent := range parents {
		mergeTextNodes(parent)
	}
	return len(marks)
}

// Marks returns every element carrying the given annotation id.
func (p *Page) Marks(id string) []*html.Node {
	var marks []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && getAttr(n, MarkAttr) == id {
			marks = append(marks, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(p.doc)
	return marks
}

func removeAttr(n *html.Node, key string) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

// mergeTextNodes joins consecutive text-node children into one.
func mergeTextNodes(parent *html.Node) {
	c := parent.FirstChild
	for c != nil {
		next := c.NextSibling
		if c.Type == html.TextNode && next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			parent.RemoveChild(next)
			continue // retry same node against the new sibling
		}
		c = next
	}
}
