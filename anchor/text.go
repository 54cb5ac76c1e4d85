package anchor

import (
	"strings"

	"golang.org/x/net/html"
)

// textIndex is a flattened view of a document's text content: the
// concatenation of every rendered text node plus the mapping back to the
// nodes, so a match in the flat string converts to node positions.
// Script and style contents are excluded.
type textIndex struct {
	text   string
	nodes  []*html.Node
	starts []int
}

func buildTextIndex(root *html.Node) *textIndex {
	ix := &textIndex{}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			ix.nodes = append(ix.nodes, n)
			ix.starts = append(ix.starts, b.Len())
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	ix.text = b.String()
	return ix
}

// flatOffset converts a node-local point into an offset in the flat text.
// The offset may equal the node length (exclusive range end).
func (ix *textIndex) flatOffset(p Point) (int, bool) {
	for i, n := range ix.nodes {
		if n == p.Node {
			if p.Offset < 0 || p.Offset > len(n.Data) {
				return 0, false
			}
			return ix.starts[i] + p.Offset, true
		}
	}
	return 0, false
}

// segments converts a flat [start,end) range into per-text-node segments.
func (ix *textIndex) segments(start, end int) []Segment {
	var segs []Segment
	for i, n := range ix.nodes {
		s0 := ix.starts[i]
		s1 := s0 + len(n.Data)
		if s1 <= start || s0 >= end {
			continue
		}
		relStart, relEnd := 0, len(n.Data)
		if start > s0 {
			relStart = start - s0
		}
		if end < s1 {
			relEnd = end - s0
		}
		if relEnd > relStart {
			segs = append(segs, Segment{Node: n, Start: relStart, End: relEnd})
		}
	}
	return segs
}

// findExact locates needle in hay with its immediate neighbourhood equal to
// before/after. First matching occurrence wins; no partial matches.
func findExact(hay, needle, before, after string) (int, int, bool) {
	if needle == "" {
		return 0, 0, false
	}
	from := 0
	for {
		i := strings.Index(hay[from:], needle)
		if i < 0 {
			return 0, 0, false
		}
		i += from
		if matchesContext(hay, i, i+len(needle), before, after) {
			return i, i + len(needle), true
		}
		from = i + 1
	}
}

func matchesContext(hay string, start, end int, before, after string) bool {
	if before != "" {
		if start < len(before) || hay[start-len(before):start] != before {
			return false
		}
	}
	if after != "" {
		if end+len(after) > len(hay) || hay[end:end+len(after)] != after {
			return false
		}
	}
	return true
}

// findNormalized is the whitespace-tolerant pass: runs of ASCII whitespace
// collapse to a single space on both needle and haystack before comparing.
// The match maps back to original haystack offsets.
func findNormalized(hay, needle, before, after string) (int, int, bool) {
	normHay, idx := normalizeWS(hay)
	normNeedle, _ := normalizeWS(needle)
	normBefore, _ := normalizeWS(before)
	normAfter, _ := normalizeWS(after)

	ns, ne, ok := findExact(normHay, normNeedle, normBefore, normAfter)
	if !ok {
		return 0, 0, false
	}
	return idx[ns], idx[ne-1] + 1, true
}

// normalizeWS collapses runs of whitespace to a single space and returns the
// normalized string plus a byte-index mapping back to the original.
func normalizeWS(s string) (string, []int) {
	var b strings.Builder
	idx := make([]int, 0, len(s))
	inWS := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			if !inWS {
				b.WriteByte(' ')
				idx = append(idx, i)
				inWS = true
			}
		default:
			inWS = false
			b.WriteByte(s[i])
			idx = append(idx, i)
		}
	}
	return b.String(), idx
}
