package generator

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Revision is the part of a published page that a later round keeps.
type Revision struct {
	// Round is the round the published page was rendered for; 1 when the
	// page carries no revision marker.
	Round int
	// Body is the published main content, without the sections each round
	// renders afresh.
	Body htmltemplate.HTML
	// Changelog holds the published changelog entries, in order.
	Changelog []htmltemplate.HTML
}

// PriorRevision extracts what round carries forward from the published page
// existing. A rerun of the round that produced existing reuses that page's
// own previous-revision section and drops its changelog entries for round
// and later. The zero Revision means nothing usable was found.
func PriorRevision(existing string, round int) Revision {
	if strings.TrimSpace(existing) == "" {
		return Revision{}
	}
	doc, err := html.Parse(strings.NewReader(existing))
	if err != nil {
		return Revision{}
	}
	root := findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.Main })
	if root == nil {
		root = findNode(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	}
	if root == nil {
		return Revision{}
	}

	rev := Revision{Round: publishedRound(root)}

	if log := findNode(root, withID(atom.Section, "changelog")); log != nil {
		for _, li := range allNodes(log, func(n *html.Node) bool { return n.DataAtom == atom.Li }) {
			entry := renderChildren(li)
			if n, ok := changelogRound(li); ok && n >= round {
				continue
			}
			rev.Changelog = append(rev.Changelog, htmltemplate.HTML(entry))
		}
	}

	if rev.Round >= round {
		if prev := findNode(root, withID(atom.Section, "previous")); prev != nil {
			rev.Body = htmltemplate.HTML(strings.TrimSpace(renderChildren(prev, isHeading)))
		}
		return rev
	}

	rev.Body = htmltemplate.HTML(strings.TrimSpace(renderChildren(root, isRoundSpecific)))
	return rev
}

// isRoundSpecific reports nodes the template renders fresh each round.
func isRoundSpecific(n *html.Node) bool {
	switch {
	case n.DataAtom == atom.H1 && attr(n, "id") == "title":
		return true
	case n.DataAtom == atom.P && hasClass(n, "revision"):
		return true
	case n.DataAtom == atom.Section:
		id := attr(n, "id")
		return id == "previous" || id == "changelog"
	}
	return false
}

func isHeading(n *html.Node) bool {
	return n.DataAtom == atom.H2
}

func publishedRound(root *html.Node) int {
	marker := findNode(root, func(n *html.Node) bool { return n.DataAtom == atom.P && hasClass(n, "revision") })
	if marker == nil {
		return 1
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(textOf(marker)), "Revision %d", &n); err != nil || n < 1 {
		return 1
	}
	return n
}

func changelogRound(li *html.Node) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(textOf(li)), "Round %d:", &n); err != nil {
		return 0, false
	}
	return n, true
}

func withID(a atom.Atom, id string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.DataAtom == a && attr(n, "id") == id }
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func allNodes(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			out = append(out, c)
			continue
		}
		out = append(out, allNodes(c, match)...)
	}
	return out
}

// renderChildren renders the children of n, skipping those matched by skip.
func renderChildren(n *html.Node, skip ...func(*html.Node) bool) string {
	var buf bytes.Buffer
next:
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			for _, s := range skip {
				if s(c) {
					continue next
				}
			}
		}
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
