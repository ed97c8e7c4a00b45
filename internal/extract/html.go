package extract

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Link is an anchor found on an index or landing page
type Link struct {
	URL     string // absolute http(s) URL
	Text    string // anchor text, whitespace collapsed
	Context string // text of the nearest li/p/td/div ancestor
}

// ParseHTML parses a document; the x/net parser never fails on malformed markup
func ParseHTML(content string) (*html.Node, error) {
	return html.Parse(strings.NewReader(content))
}

// Links returns every http(s) anchor in doc resolved against pageURL, deduplicated by URL
func Links(doc *html.Node, pageURL string) []Link {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []Link

	for _, a := range FindAll(doc, isElement("a")) {
		href := strings.TrimSpace(Attr(a, "href"))
		if href == "" {
			continue
		}
		resolved := ResolveURL(base, href)
		if resolved == "" || seen[resolved] {
			continue
		}
		seen[resolved] = true
		links = append(links, Link{
			URL:     resolved,
			Text:    NodeText(a),
			Context: contextText(a),
		})
	}
	return links
}

// ResolveURL resolves href against base, dropping fragments-only, javascript: and mailto: links
func ResolveURL(base *url.URL, href string) string {
	if strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return ""
	}

	// Some portals emit &amp; inside href values that survive entity decoding
	href = strings.ReplaceAll(href, "&amp;", "&")

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

func contextText(a *html.Node) string {
	for p := a.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		switch p.Data {
		case "li", "p", "td", "div":
			text := NodeText(p)
			if len(text) > 300 {
				text = text[:300]
			}
			return text
		}
	}
	return ""
}

// NodeText returns the text under n with whitespace collapsed
func NodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

// VisibleText extracts page text, skipping scripts, styles and page chrome
func VisibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "nav", "header", "footer":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

// Tables converts every <table> in doc into a grid of cell texts.
// Nested tables are returned separately and their cells are not repeated in the parent.
func Tables(doc *html.Node) [][][]string {
	var grids [][][]string
	for _, table := range FindAll(doc, isElement("table")) {
		var grid [][]string
		for _, tr := range ownRows(table) {
			var row []string
			for c := tr.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					row = append(row, NodeText(c))
				}
			}
			if len(row) > 0 {
				grid = append(grid, row)
			}
		}
		if len(grid) > 0 {
			grids = append(grids, grid)
		}
	}
	return grids
}

// ownRows returns the tr elements of table, not descending into nested tables
func ownRows(table *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "table":
				continue
			case "tr":
				rows = append(rows, c)
			default:
				walk(c)
			}
		}
	}
	walk(table)
	return rows
}

// Cells returns the td/th children of a row element
func Cells(tr *html.Node) []*html.Node {
	var cells []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, c)
		}
	}
	return cells
}

// Rows returns the tr elements of every table in doc, not descending into nested tables
func Rows(doc *html.Node) [][]*html.Node {
	var out [][]*html.Node
	for _, table := range FindAll(doc, isElement("table")) {
		out = append(out, ownRows(table))
	}
	return out
}

// Attr gets an attribute value from a node
func Attr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// FindAll finds all nodes matching a predicate
func FindAll(n *html.Node, predicate func(*html.Node) bool) []*html.Node {
	var results []*html.Node

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if predicate(node) {
			results = append(results, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return results
}

func isElement(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

// IsElement is the exported predicate for FindAll
func IsElement(tag string) func(*html.Node) bool {
	return isElement(tag)
}
