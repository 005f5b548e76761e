// Package parse implements the tree/PageElement interface (spec §6.3):
// counted CSS and XPath selectors that raise a StructuralAssumptionError
// when a match count falls outside the caller's declared [min, max], with
// the error carrying an absolute ancestry chain composed by the
// SelectorObserver. Grounded on the teacher's internal/parser/{css,xpath,
// dom}.go (goquery + antchfx/htmlquery selection) plus tracker.go's
// ancestry-path building (buildElementPath).
package parse

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/waylight/kestrel/internal/types"
)

// PageElement is the counted-selector tree interface handed to steps as
// "page" / "lxml_tree". Every query enforces [min, max] and raises a
// StructuralAssumptionError on violation.
type PageElement struct {
	url      string
	node     *html.Node
	doc      *goquery.Selection
	ancestry string // absolute selector chain from the document root to this element
}

// NewPage parses raw HTML bytes into a PageElement rooted at the document.
func NewPage(url string, content []byte) (*PageElement, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("parse: parsing document for %s: %w", url, err)
	}
	root, err := htmlquery.Parse(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("parse: parsing xpath tree for %s: %w", url, err)
	}
	return &PageElement{url: url, node: root, doc: doc.Selection, ancestry: "/"}, nil
}

// Selector describes one counted query: a CSS or XPath expression, the
// count bounds the caller asserts, and a human description surfaced in
// StructuralAssumptionError for operator triage.
type Selector struct {
	Expr        string
	MinCount    int
	MaxCount    *int // nil = unbounded
	Description string
}

// QueryCSS evaluates a counted CSS selector against this element's subtree.
func (p *PageElement) QueryCSS(sel Selector) ([]*PageElement, error) {
	matches := p.doc.Find(sel.Expr)
	return p.assertAndWrap(sel, "css", matches.Length(), func(i int) *PageElement {
		s := matches.Eq(i)
		return &PageElement{url: p.url, node: s.Get(0), doc: s, ancestry: p.childAncestry(sel.Expr, i)}
	})
}

// QueryXPath evaluates a counted XPath expression against this element's
// subtree.
func (p *PageElement) QueryXPath(sel Selector) ([]*PageElement, error) {
	nodes, err := htmlquery.QueryAll(p.node, sel.Expr)
	if err != nil {
		return nil, fmt.Errorf("parse: invalid xpath %q: %w", sel.Expr, err)
	}
	return p.assertAndWrap(sel, "xpath", len(nodes), func(i int) *PageElement {
		return &PageElement{url: p.url, node: nodes[i], doc: goquery.NewDocumentFromNode(nodes[i]).Selection, ancestry: p.childAncestry(sel.Expr, i)}
	})
}

func (p *PageElement) assertAndWrap(sel Selector, kind string, count int, build func(i int) *PageElement) ([]*PageElement, error) {
	if count < sel.MinCount || (sel.MaxCount != nil && count > *sel.MaxCount) {
		return nil, &types.StructuralAssumptionError{
			Selector:    sel.Expr,
			Ancestry:    p.ancestry,
			ExpectedMin: sel.MinCount,
			ExpectedMax: sel.MaxCount,
			ActualCount: count,
			Sample:      p.sampleText(kind, count),
			URL:         p.url,
		}
	}
	out := make([]*PageElement, count)
	for i := 0; i < count; i++ {
		out[i] = build(i)
	}
	return out, nil
}

func (p *PageElement) sampleText(kind string, count int) string {
	if kind == "css" {
		text := strings.TrimSpace(p.doc.Text())
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}
	if count == 0 {
		return ""
	}
	text := strings.TrimSpace(htmlquery.InnerText(p.node))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func (p *PageElement) childAncestry(expr string, index int) string {
	if p.ancestry == "/" {
		return fmt.Sprintf("/%s[%d]", expr, index)
	}
	return fmt.Sprintf("%s/%s[%d]", p.ancestry, expr, index)
}

// Text returns the trimmed text content of this element.
func (p *PageElement) Text() string {
	return strings.TrimSpace(p.doc.Text())
}

// Attr returns an attribute value and whether it was present.
func (p *PageElement) Attr(name string) (string, bool) {
	return p.doc.Attr(name)
}

// HTML returns the inner HTML of this element.
func (p *PageElement) HTML() (string, error) {
	return p.doc.Html()
}

// Ancestry exposes the absolute selector chain for error reporting by callers
// that compose their own assumption errors.
func (p *PageElement) Ancestry() string { return p.ancestry }
