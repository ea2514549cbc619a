package scrape

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ParseRows extracts records from an HTML fragment. Every element whose
// class attribute contains rowClass becomes one record; within it, each
// (field, cellClass) pair in cellClasses maps to the text of the first
// descendant carrying that class. Parsing the region's HTML in one pass
// avoids a browser round-trip per cell.
func ParseRows(fragment, rowClass string, cellClasses map[string]string) ([]map[string]string, error) {
	// The fragment is the region's inner HTML, so table rows arrive
	// without their enclosing table and the HTML5 parser would drop
	// them. Parsing inside a table keeps them; non-table content is
	// foster-parented out of it but stays in the tree.
	doc, err := html.Parse(strings.NewReader("<table>" + fragment + "</table>"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse table fragment: %w", err)
	}

	var rows []map[string]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, rowClass) {
			row := make(map[string]string, len(cellClasses))
			for field, class := range cellClasses {
				if cell := findByClass(n, class); cell != nil {
					row[field] = collapseSpace(textContent(cell))
				}
			}
			rows = append(rows, row)
			return // rows do not nest
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows, nil
}

func hasClass(n *html.Node, class string) bool {
	if class == "" {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// findByClass returns the first descendant (or the node itself) carrying
// the class, depth first.
func findByClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
