package parse

import (
	"errors"
	"testing"

	"github.com/waylight/kestrel/internal/types"
)

const sampleHTML = `<html><body>
	<div class="item">one</div>
	<div class="item">two</div>
	<div class="item">three</div>
</body></html>`

func TestQueryCSSWithinBoundsReturnsMatches(t *testing.T) {
	page, err := NewPage("https://example.com", []byte(sampleHTML))
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	max := 3
	matches, err := page.QueryCSS(Selector{Expr: "div.item", MinCount: 3, MaxCount: &max, Description: "items"})
	if err != nil {
		t.Fatalf("query_css: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].Text() != "one" {
		t.Errorf("expected first match text 'one', got %q", matches[0].Text())
	}
}

func TestQueryCSSBelowMinRaisesStructuralAssumptionError(t *testing.T) {
	page, err := NewPage("https://example.com", []byte(sampleHTML))
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	_, err = page.QueryCSS(Selector{Expr: "div.missing", MinCount: 1, Description: "missing items"})
	if err == nil {
		t.Fatalf("expected structural assumption error, got nil")
	}
	var sae *types.StructuralAssumptionError
	if !errors.As(err, &sae) {
		t.Fatalf("expected *types.StructuralAssumptionError, got %T", err)
	}
	if sae.ActualCount != 0 || sae.ExpectedMin != 1 {
		t.Errorf("unexpected error fields: %+v", sae)
	}
}

func TestQueryCSSAboveMaxRaisesStructuralAssumptionError(t *testing.T) {
	page, err := NewPage("https://example.com", []byte(sampleHTML))
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	max := 2
	_, err = page.QueryCSS(Selector{Expr: "div.item", MinCount: 1, MaxCount: &max, Description: "items"})
	if err == nil {
		t.Fatalf("expected structural assumption error for exceeding max, got nil")
	}
}

func TestQueryXPathWithinBounds(t *testing.T) {
	page, err := NewPage("https://example.com", []byte(sampleHTML))
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	matches, err := page.QueryXPath(Selector{Expr: "//div[@class='item']", MinCount: 3, Description: "items"})
	if err != nil {
		t.Fatalf("query_xpath: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
}

func TestChildAncestryIsComposedAbsolute(t *testing.T) {
	page, err := NewPage("https://example.com", []byte(sampleHTML))
	if err != nil {
		t.Fatalf("new page: %v", err)
	}

	matches, err := page.QueryCSS(Selector{Expr: "div.item", MinCount: 1})
	if err != nil {
		t.Fatalf("query_css: %v", err)
	}
	if matches[0].Ancestry() == "" || matches[0].Ancestry() == page.Ancestry() {
		t.Errorf("expected child ancestry to differ from parent, got %q", matches[0].Ancestry())
	}
}
