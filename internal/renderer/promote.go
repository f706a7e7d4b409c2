package renderer

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
)

// jsKeywords are body signals that a statically fetched page did not render
// its real content.
var jsKeywords = [][]byte{
	[]byte("enable javascript"),
	[]byte("javascript is required"),
	[]byte("just a moment"),
	[]byte("checking your browser"),
}

// Promoting probes a page with the static renderer and escalates to the
// headless renderer when the result looks like it needs JavaScript. Both
// renderers stay opaque to callers.
type Promoting struct {
	static       book.Renderer
	headless     book.Renderer
	minHTMLBytes int
	logger       *zap.Logger
}

// NewPromoting wires the probe and headless renderers together.
func NewPromoting(static, headless book.Renderer, minHTMLBytes int, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{
		static:       static,
		headless:     headless,
		minHTMLBytes: minHTMLBytes,
		logger:       logger,
	}
}

// Render probes statically first; on probe failure or a needs-JS signal it
// renders through the headless browser instead.
func (r *Promoting) Render(ctx context.Context, rawURL string) (book.Page, error) {
	page, err := r.static.Render(ctx, rawURL)
	if err != nil {
		r.logger.Debug("static probe failed, promoting to headless",
			zap.String("url", rawURL), zap.Error(err))
		return r.headless.Render(ctx, rawURL)
	}
	if !r.needsJS(page.Body) {
		return page, nil
	}
	r.logger.Debug("static probe needs js, promoting to headless", zap.String("url", rawURL))
	return r.headless.Render(ctx, rawURL)
}

func (r *Promoting) needsJS(body []byte) bool {
	if r.minHTMLBytes > 0 && len(body) < r.minHTMLBytes {
		return true
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range jsKeywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return r.bodyIsEmpty(body)
}

// bodyIsEmpty reports whether the parsed document has no visible text at
// all, which on content sites means a JS-only shell.
func (r *Promoting) bodyIsEmpty(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	return strings.TrimSpace(doc.Find("body").Text()) == ""
}
