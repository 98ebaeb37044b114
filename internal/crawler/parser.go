package crawler

import (
	"strings"

	"golang.org/x/net/html"
)

// LinkExtractor pulls hyperlink targets out of page content.
type LinkExtractor interface {
	// Extract returns the raw href values found in content, in document order.
	// Values are returned as written in the page, without resolution.
	Extract(content string) ([]string, error)
}

// ExtractorFunc adapts a function to the LinkExtractor interface.
type ExtractorFunc func(content string) ([]string, error)

// Extract calls f(content).
func (f ExtractorFunc) Extract(content string) ([]string, error) {
	return f(content)
}

// HTMLExtractor extracts anchor targets from HTML documents.
//
// Design decision: We use golang.org/x/net/html rather than regular
// expressions because:
//  1. It handles the malformed markup common on real sites
//  2. Attribute quoting and entity decoding are done for us
//  3. Document order is preserved by walking the parsed tree
type HTMLExtractor struct {
	// elements maps an element name to the attribute holding its target.
	elements map[string]string
}

// HTMLExtractorOption configures an HTMLExtractor.
type HTMLExtractorOption func(*HTMLExtractor)

// WithAreaLinks also reports the href of <area> elements in image maps.
func WithAreaLinks() HTMLExtractorOption {
	return func(e *HTMLExtractor) {
		e.elements["area"] = "href"
	}
}

// NewHTMLExtractor creates an extractor that reports <a href> targets.
func NewHTMLExtractor(opts ...HTMLExtractorOption) *HTMLExtractor {
	e := &HTMLExtractor{
		elements: map[string]string{"a": "href"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses content as HTML and returns link targets in document order.
// Elements without the target attribute are skipped; an attribute that is
// present but empty is reported as an empty string.
func (e *HTMLExtractor) Extract(content string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	links := make([]string, 0)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if attr, ok := e.elements[n.Data]; ok {
				if href, found := getAttr(n, attr); found {
					links = append(links, href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links, nil
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}
