// Package extract implements the structural-query collaborator over rendered
// HTML. Queries are XPath expressions evaluated with antchfx/htmlquery; the
// engine itself stays agnostic to the query language.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"github.com/khoward/webserial/internal/book"
)

// XPath evaluates XPath expressions against rendered pages.
type XPath struct{}

// NewXPath constructs the extractor.
func NewXPath() *XPath {
	return &XPath{}
}

// Validate reports whether expr is a non-empty, compilable XPath expression.
func (x *XPath) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return errors.New("empty xpath expression")
	}
	if _, err := xpath.Compile(expr); err != nil {
		return fmt.Errorf("compile xpath %q: %w", expr, err)
	}
	return nil
}

// Links returns matched anchors in document order with hrefs resolved
// against the page address. Matches without an href are skipped.
func (x *XPath) Links(page book.Page, expr string) ([]book.Link, error) {
	nodes, err := x.query(page, expr)
	if err != nil {
		return nil, err
	}
	base := pageBase(page)
	var links []book.Link
	for _, n := range nodes {
		href := strings.TrimSpace(htmlquery.SelectAttr(n, "href"))
		if href == "" {
			continue
		}
		resolved, err := book.ResolveRef(base, href)
		if err != nil {
			continue
		}
		links = append(links, book.Link{
			Href: resolved,
			Text: strings.TrimSpace(htmlquery.InnerText(n)),
		})
	}
	return links, nil
}

// Strings returns the text content of each match in document order.
func (x *XPath) Strings(page book.Page, expr string) ([]string, error) {
	nodes, err := x.query(page, expr)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range nodes {
		if text := strings.TrimSpace(htmlquery.InnerText(n)); text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

func (x *XPath) query(page book.Page, expr string) ([]*html.Node, error) {
	if err := x.Validate(expr); err != nil {
		return nil, err
	}
	doc, err := htmlquery.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", page.URL, err)
	}
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", expr, err)
	}
	return nodes, nil
}

func pageBase(page book.Page) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return page.URL
}
