// Package discover implements the chapter-list pagination traversal that
// produces a work's ordered, deduplicated chapter list.
package discover

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
)

// longTraversalWarnEvery is the page interval at which an unusually long
// traversal is logged. There is deliberately no hard page cap; long but
// legitimate chapter lists must complete.
const longTraversalWarnEvery = 50

// Traverser walks the chapter-list pagination dimension. Traversal is
// strictly sequential: each page's address comes from the previous page's
// extracted result.
type Traverser struct {
	renderer  book.Renderer
	extractor book.Extractor
	rules     book.RuleSet
	logger    *zap.Logger
}

// NewTraverser constructs a Traverser.
func NewTraverser(renderer book.Renderer, extractor book.Extractor, rules book.RuleSet, logger *zap.Logger) *Traverser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Traverser{
		renderer:  renderer,
		extractor: extractor,
		rules:     rules,
		logger:    logger,
	}
}

// Run renders the menu address and every further chapter-list page,
// returning chapter records in document/discovery order with cross-page
// duplicates suppressed. A render failure on the first page is fatal; on a
// later page the chapters gathered so far are returned with a warning.
func (t *Traverser) Run(ctx context.Context, menuURL string) ([]book.ChapterRecord, error) {
	var chapters []book.ChapterRecord
	seen := make(map[string]struct{})    // normalized chapter URLs across pages
	visited := make(map[string]struct{}) // normalized list-page URLs, cycle guard

	currentURL := menuURL
	pageNum := 1

	for {
		if err := ctx.Err(); err != nil {
			return chapters, fmt.Errorf("traversal canceled: %w", err)
		}

		page, err := t.renderer.Render(ctx, currentURL)
		if err != nil {
			if pageNum == 1 {
				return nil, fmt.Errorf("render first chapter-list page %s: %w", currentURL, err)
			}
			t.logger.Warn("render of chapter-list page failed, keeping chapters gathered so far",
				zap.String("url", currentURL),
				zap.Int("page", pageNum),
				zap.Int("chapters", len(chapters)),
				zap.Error(err))
			return chapters, nil
		}

		added, err := t.collectChapters(page, seen, &chapters)
		if err != nil {
			if pageNum == 1 {
				return nil, err
			}
			t.logger.Warn("chapter extraction failed on later page, keeping chapters gathered so far",
				zap.String("url", currentURL), zap.Error(err))
			return chapters, nil
		}
		if added == 0 {
			t.logger.Warn("no chapters found on chapter-list page",
				zap.String("url", currentURL), zap.Int("page", pageNum))
		}
		t.logger.Debug("chapter-list page processed",
			zap.String("url", currentURL),
			zap.Int("page", pageNum),
			zap.Int("added", added),
			zap.Int("total", len(chapters)))

		next, ok := t.nextPage(page, currentURL, visited)
		if !ok {
			t.logger.Info("chapter traversal complete",
				zap.Int("pages", pageNum),
				zap.Int("chapters", len(chapters)))
			return chapters, nil
		}

		currentNorm := normalizeOrRaw(currentURL)
		visited[currentNorm] = struct{}{}
		currentURL = next
		pageNum++
		if pageNum%longTraversalWarnEvery == 0 {
			t.logger.Warn("unusually long chapter-list traversal",
				zap.Int("pages", pageNum), zap.Int("chapters", len(chapters)))
		}
	}
}

// collectChapters appends the page's chapter links in document order,
// skipping duplicates already discovered on earlier pages.
func (t *Traverser) collectChapters(page book.Page, seen map[string]struct{}, chapters *[]book.ChapterRecord) (int, error) {
	links, err := t.extractor.Links(page, t.rules.ChapterXPath)
	if err != nil {
		return 0, fmt.Errorf("extract chapter links: %w", err)
	}
	added := 0
	for _, link := range links {
		if link.Text == "" {
			continue
		}
		norm := normalizeOrRaw(link.Href)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		*chapters = append(*chapters, book.ChapterRecord{
			Index: len(*chapters) + 1,
			Title: link.Text,
			URL:   link.Href,
		})
		added++
	}
	return added, nil
}

// nextPage resolves the next chapter-list address and applies the three
// termination conditions: no pagination rule, no match, self-loop, or an
// address already visited.
func (t *Traverser) nextPage(page book.Page, currentURL string, visited map[string]struct{}) (string, bool) {
	if t.rules.ListPaginationXPath == "" {
		return "", false
	}
	links, err := t.extractor.Links(page, t.rules.ListPaginationXPath)
	if err != nil {
		t.logger.Warn("pagination extraction failed, terminating traversal",
			zap.String("url", currentURL), zap.Error(err))
		return "", false
	}
	if len(links) == 0 {
		return "", false
	}
	next := links[0].Href
	nextNorm := normalizeOrRaw(next)
	if nextNorm == normalizeOrRaw(currentURL) {
		t.logger.Debug("pagination self-loop, terminating traversal", zap.String("url", next))
		return "", false
	}
	if _, ok := visited[nextNorm]; ok {
		t.logger.Debug("pagination cycle detected, terminating traversal", zap.String("url", next))
		return "", false
	}
	return next, true
}

func normalizeOrRaw(rawURL string) string {
	norm, err := book.NormalizeURL(rawURL)
	if err != nil {
		return rawURL
	}
	return norm
}
