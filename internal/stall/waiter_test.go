package stall

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
)

const challengeHTML = `<html><head><title>Just a moment...</title></head><body></body></html>`
const clearHTML = `<html><head><title>Chapter 1</title></head><body>content</body></html>`

type sequenceRenderer struct {
	mu    sync.Mutex
	pages []book.Page
	calls int
}

func (r *sequenceRenderer) Render(_ context.Context, rawURL string) (book.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.calls
	if idx >= len(r.pages) {
		idx = len(r.pages) - 1
	}
	r.calls++
	page := r.pages[idx]
	page.URL = rawURL
	return page, nil
}

func TestWaiter_PassThroughWhenClear(t *testing.T) {
	t.Parallel()

	r := &sequenceRenderer{pages: []book.Page{{Body: []byte(clearHTML)}}}
	w := NewWaiter(r, NewDetector(), 10*time.Millisecond, 100*time.Millisecond, zap.NewNop())

	page, err := w.Resolve(context.Background(), "https://example.com/ch1", book.Page{Body: []byte(clearHTML)})
	require.NoError(t, err)
	require.Contains(t, string(page.Body), "content")
	require.Zero(t, r.calls, "clear page must not trigger a re-render")
}

func TestWaiter_ClearsAfterPolling(t *testing.T) {
	t.Parallel()

	r := &sequenceRenderer{pages: []book.Page{
		{Body: []byte(challengeHTML)},
		{Body: []byte(clearHTML)},
	}}
	w := NewWaiter(r, NewDetector(), 10*time.Millisecond, time.Second, zap.NewNop())

	page, err := w.Resolve(context.Background(), "https://example.com/ch1", book.Page{Body: []byte(challengeHTML)})
	require.NoError(t, err)
	require.Contains(t, string(page.Body), "content")
	require.GreaterOrEqual(t, r.calls, 2)
}

func TestWaiter_TimeoutReturnsDegraded(t *testing.T) {
	t.Parallel()

	r := &sequenceRenderer{pages: []book.Page{{Body: []byte(challengeHTML)}}}
	w := NewWaiter(r, NewDetector(), 10*time.Millisecond, 50*time.Millisecond, zap.NewNop())

	page, err := w.Resolve(context.Background(), "https://example.com/ch1", book.Page{Body: []byte(challengeHTML)})
	require.ErrorIs(t, err, ErrTimeout)
	require.NotEmpty(t, page.Body, "caller still gets the last rendered page")
}

func TestWaiter_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &sequenceRenderer{pages: []book.Page{{Body: []byte(challengeHTML)}}}
	w := NewWaiter(r, NewDetector(), 10*time.Millisecond, time.Second, zap.NewNop())

	_, err := w.Resolve(ctx, "https://example.com/ch1", book.Page{Body: []byte(challengeHTML)})
	require.ErrorIs(t, err, context.Canceled)
}
