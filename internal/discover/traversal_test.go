package discover

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
)

// fakeRenderer serves canned pages by URL and records render order.
type fakeRenderer struct {
	pages    map[string]book.Page
	failures map[string]error
	rendered []string
}

func (r *fakeRenderer) Render(_ context.Context, rawURL string) (book.Page, error) {
	r.rendered = append(r.rendered, rawURL)
	if err, ok := r.failures[rawURL]; ok {
		return book.Page{}, err
	}
	page, ok := r.pages[rawURL]
	if !ok {
		return book.Page{}, errors.New("no such page")
	}
	return page, nil
}

// fakeExtractor returns scripted links keyed by page URL and expression.
type fakeExtractor struct {
	links map[string]map[string][]book.Link
}

func (e *fakeExtractor) Links(page book.Page, expr string) ([]book.Link, error) {
	return e.links[page.URL][expr], nil
}

func (e *fakeExtractor) Strings(book.Page, string) ([]string, error) {
	return nil, nil
}

func (e *fakeExtractor) Validate(string) error { return nil }

const (
	chapterExpr = "//ul[@id='chapters']//a"
	nextExpr    = "//a[@class='next']"
)

func testRules() book.RuleSet {
	return book.RuleSet{
		ChapterXPath:        chapterExpr,
		ContentXPath:        "//div[@id='content']",
		ListPaginationXPath: nextExpr,
	}
}

func chapterLink(n string) book.Link {
	return book.Link{Href: "https://example.com/ch/" + n, Text: "Chapter " + n}
}

func TestTraversalSinglePage(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]book.Page{
		"https://example.com/menu": {URL: "https://example.com/menu"},
	}}
	extractor := &fakeExtractor{links: map[string]map[string][]book.Link{
		"https://example.com/menu": {
			chapterExpr: {chapterLink("1"), chapterLink("2")},
		},
	}}

	trav := NewTraverser(renderer, extractor, testRules(), zap.NewNop())
	chapters, err := trav.Run(context.Background(), "https://example.com/menu")
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	require.Equal(t, 1, chapters[0].Index)
	require.Equal(t, "Chapter 1", chapters[0].Title)
	require.Equal(t, "https://example.com/ch/1", chapters[0].URL)
	require.Equal(t, 2, chapters[1].Index)
}

func TestTraversalFollowsPaginationAndTerminatesOnCycle(t *testing.T) {
	t.Parallel()

	pages := map[string]book.Page{
		"https://example.com/menu":   {URL: "https://example.com/menu"},
		"https://example.com/menu/2": {URL: "https://example.com/menu/2"},
		"https://example.com/menu/3": {URL: "https://example.com/menu/3"},
	}
	renderer := &fakeRenderer{pages: pages}
	extractor := &fakeExtractor{links: map[string]map[string][]book.Link{
		"https://example.com/menu": {
			chapterExpr: {chapterLink("1"), chapterLink("2")},
			nextExpr:    {{Href: "https://example.com/menu/2", Text: "Next"}},
		},
		"https://example.com/menu/2": {
			chapterExpr: {chapterLink("3")},
			nextExpr:    {{Href: "https://example.com/menu/3", Text: "Next"}},
		},
		// The last page points back at an earlier page. Traversal must stop
		// after processing every page exactly once.
		"https://example.com/menu/3": {
			chapterExpr: {chapterLink("4")},
			nextExpr:    {{Href: "https://example.com/menu/2", Text: "Next"}},
		},
	}}

	trav := NewTraverser(renderer, extractor, testRules(), zap.NewNop())
	chapters, err := trav.Run(context.Background(), "https://example.com/menu")
	require.NoError(t, err)
	require.Len(t, chapters, 4)
	require.Equal(t, []string{
		"https://example.com/menu",
		"https://example.com/menu/2",
		"https://example.com/menu/3",
	}, renderer.rendered)
	for i, ch := range chapters {
		require.Equal(t, i+1, ch.Index)
	}
}

func TestTraversalTerminatesOnSelfLoop(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]book.Page{
		"https://example.com/menu": {URL: "https://example.com/menu"},
	}}
	extractor := &fakeExtractor{links: map[string]map[string][]book.Link{
		"https://example.com/menu": {
			chapterExpr: {chapterLink("1")},
			nextExpr:    {{Href: "https://example.com/menu", Text: "Next"}},
		},
	}}

	trav := NewTraverser(renderer, extractor, testRules(), zap.NewNop())
	chapters, err := trav.Run(context.Background(), "https://example.com/menu")
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	require.Len(t, renderer.rendered, 1)
}

func TestTraversalDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]book.Page{
		"https://example.com/menu":   {URL: "https://example.com/menu"},
		"https://example.com/menu/2": {URL: "https://example.com/menu/2"},
	}}
	extractor := &fakeExtractor{links: map[string]map[string][]book.Link{
		"https://example.com/menu": {
			chapterExpr: {chapterLink("1"), chapterLink("2")},
			nextExpr:    {{Href: "https://example.com/menu/2", Text: "Next"}},
		},
		"https://example.com/menu/2": {
			// Chapter 2 repeats with a trivially different address form.
			chapterExpr: {
				{Href: "https://EXAMPLE.com/ch/2#top", Text: "Chapter 2"},
				chapterLink("3"),
			},
		},
	}}

	trav := NewTraverser(renderer, extractor, testRules(), zap.NewNop())
	chapters, err := trav.Run(context.Background(), "https://example.com/menu")
	require.NoError(t, err)
	require.Len(t, chapters, 3)
	require.Equal(t, "https://example.com/ch/3", chapters[2].URL)
}

func TestTraversalNoPaginationRule(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]book.Page{
		"https://example.com/menu": {URL: "https://example.com/menu"},
	}}
	extractor := &fakeExtractor{links: map[string]map[string][]book.Link{
		"https://example.com/menu": {
			chapterExpr: {chapterLink("1")},
			nextExpr:    {{Href: "https://example.com/menu/2", Text: "Next"}},
		},
	}}

	rules := testRules()
	rules.ListPaginationXPath = ""
	trav := NewTraverser(renderer, extractor, rules, zap.NewNop())
	chapters, err := trav.Run(context.Background(), "https://example.com/menu")
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	require.Len(t, renderer.rendered, 1)
}

func TestTraversalFirstPageFailureIsFatal(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{
		failures: map[string]error{"https://example.com/menu": errors.New("boom")},
	}
	trav := NewTraverser(renderer, &fakeExtractor{}, testRules(), zap.NewNop())
	chapters, err := trav.Run(context.Background(), "https://example.com/menu")
	require.Error(t, err)
	require.Nil(t, chapters)
}

func TestTraversalLaterPageFailureIsPartial(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{
		pages: map[string]book.Page{
			"https://example.com/menu": {URL: "https://example.com/menu"},
		},
		failures: map[string]error{"https://example.com/menu/2": errors.New("boom")},
	}
	extractor := &fakeExtractor{links: map[string]map[string][]book.Link{
		"https://example.com/menu": {
			chapterExpr: {chapterLink("1"), chapterLink("2")},
			nextExpr:    {{Href: "https://example.com/menu/2", Text: "Next"}},
		},
	}}

	trav := NewTraverser(renderer, extractor, testRules(), zap.NewNop())
	chapters, err := trav.Run(context.Background(), "https://example.com/menu")
	require.NoError(t, err)
	require.Len(t, chapters, 2)
}

func TestTraversalCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trav := NewTraverser(&fakeRenderer{}, &fakeExtractor{}, testRules(), zap.NewNop())
	_, err := trav.Run(ctx, "https://example.com/menu")
	require.ErrorIs(t, err, context.Canceled)
}
