package browser

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// isRenderedEnough reports whether fetched HTML carries real content, i.e.
// a browser render is not needed. The document is parsed and its visible
// text measured; empty well-known SPA mount points and "enable JavaScript"
// noscript banners force escalation.
func isRenderedEnough(body []byte) bool {
	if len(body) < 256 {
		return false
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return false
	}

	var textLen int
	shell := false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if shell {
			return
		}
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "noscript":
				if strings.Contains(strings.ToLower(nodeText(n)), "enable javascript") {
					shell = true
				}
				return
			case "div":
				if isEmptyMountPoint(n) {
					shell = true
					return
				}
			}
		case html.TextNode:
			textLen += len(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if shell {
		return false
	}
	// Under ~200 chars of visible text the page is most likely a shell.
	return textLen >= 200
}

// isEmptyMountPoint matches childless <div id="root|app|__next">.
func isEmptyMountPoint(n *html.Node) bool {
	if n.FirstChild != nil {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "id" {
			switch a.Val {
			case "root", "app", "__next":
				return true
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
