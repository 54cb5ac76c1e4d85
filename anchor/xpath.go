package anchor

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// evaluateXPath evaluates a simple XPath and returns matching nodes.
// Supports the practical subset browsers emit for selection anchors:
//   - /html/body/div/p        — absolute path
//   - /html/body/div[2]/p     — positional predicate
//   - /html/body/p/text()[1]  — text-node leaf step
//   - //article               — descendant anywhere
//   - //div[@class='x']       — attribute predicate
func evaluateXPath(doc *html.Node, xpath string) []*html.Node {
	xpath = strings.TrimSpace(xpath)

	// Handle // (descendant-or-self) prefix.
	if strings.HasPrefix(xpath, "//") {
		return findDescendants(doc, xpath[2:])
	}

	// Handle / (absolute) path.
	if strings.HasPrefix(xpath, "/") {
		return followPath([]*html.Node{doc}, xpath[1:])
	}

	// Bare expression — treat as descendant search.
	return findDescendants(doc, xpath)
}

// findDescendants finds all nodes matching the first step of a //expr path.
func findDescendants(root *html.Node, expr string) []*html.Node {
	// Split on / for multi-step paths: //div/p → find div anywhere, then p children.
	steps := strings.SplitN(expr, "/", 2)
	tag, pred := parseXPathStep(steps[0])

	var matches []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if matchesXPathStep(n, tag, pred) {
			matches = append(matches, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	// Continue with remaining path steps.
	if len(steps) > 1 && steps[1] != "" {
		var filtered []*html.Node
		for _, m := range matches {
			filtered = append(filtered, followPath([]*html.Node{m}, steps[1])...)
		}
		return filtered
	}

	return matches
}

// followPath follows a step/step/... path through child nodes.
func followPath(current []*html.Node, path string) []*html.Node {
	for _, step := range strings.Split(path, "/") {
		if step == "" {
			continue
		}
		tag, pred := parseXPathStep(step)
		var next []*html.Node
		for _, parent := range current {
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				if matchesXPathStep(c, tag, pred) {
					next = append(next, c)
				}
			}
		}
		current = next
	}
	return current
}

type xpathPredicate struct {
	attrName  string
	attrValue string
	position  int // 1-based
}

// parseXPathStep parses "div", "div[@class='x']", "div[2]", "text()[1]".
func parseXPathStep(step string) (string, *xpathPredicate) {
	idx := strings.IndexByte(step, '[')
	if idx < 0 {
		return step, nil
	}

	tag := step[:idx]
	predStr := strings.TrimRight(step[idx+1:], "]")

	pred := &xpathPredicate{}

	// Positional: [2]
	if n, err := strconv.Atoi(predStr); err == nil {
		pred.position = n
		return tag, pred
	}

	// Attribute: [@class='value'] or [@data-x]
	if strings.HasPrefix(predStr, "@") {
		attrExpr := predStr[1:]
		if eqIdx := strings.IndexByte(attrExpr, '='); eqIdx >= 0 {
			pred.attrName = attrExpr[:eqIdx]
			pred.attrValue = strings.Trim(attrExpr[eqIdx+1:], `'"`)
		} else {
			pred.attrName = attrExpr
		}
		return tag, pred
	}

	return tag, nil
}

// matchesXPathStep checks if a node matches a tag + optional predicate.
// The tag "text()" matches text nodes; positional predicates then count
// text-node siblings instead of same-tag elements.
func matchesXPathStep(n *html.Node, tag string, pred *xpathPredicate) bool {
	if tag == "text()" {
		if n.Type != html.TextNode {
			return false
		}
		if pred == nil {
			return true
		}
		if pred.position > 0 {
			pos := 0
			for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
				if s.Type == html.TextNode {
					pos++
					if s == n {
						return pos == pred.position
					}
				}
			}
			return false
		}
		return true
	}

	if n.Type != html.ElementNode {
		return false
	}
	if tag != "*" && n.Data != tag {
		return false
	}

	if pred == nil {
		return true
	}

	if pred.attrName != "" {
		val := getAttr(n, pred.attrName)
		if pred.attrValue != "" {
			return val == pred.attrValue
		}
		return hasAttr(n, pred.attrName)
	}

	if pred.position > 0 {
		// Count sibling elements with the same tag.
		pos := 0
		for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
			if s.Type == html.ElementNode && s.Data == n.Data {
				pos++
				if s == n {
					return pos == pred.position
				}
			}
		}
		return false
	}

	return true
}
