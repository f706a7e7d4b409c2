package stall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
)

// ErrTimeout indicates the interstitial did not clear within the wait
// budget. Callers proceed with the last rendered page and flag the chapter
// degraded rather than failing the run.
var ErrTimeout = errors.New("interstitial wait timed out")

// Waiter polls a stalled address until the interstitial clears or the wait
// budget is exhausted. Only the calling chapter blocks; sibling downloads
// keep their own renderer slots.
type Waiter struct {
	renderer book.Renderer
	detector book.StallDetector
	interval time.Duration
	maxWait  time.Duration
	logger   *zap.Logger
}

// NewWaiter constructs a Waiter.
func NewWaiter(renderer book.Renderer, detector book.StallDetector, interval, maxWait time.Duration, logger *zap.Logger) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{
		renderer: renderer,
		detector: detector,
		interval: interval,
		maxWait:  maxWait,
		logger:   logger,
	}
}

// Resolve returns the page once it is free of the interstitial. If page is
// not a challenge it is returned unchanged. On timeout the last rendered
// page is returned together with ErrTimeout so the caller can continue
// degraded.
func (w *Waiter) Resolve(ctx context.Context, rawURL string, page book.Page) (book.Page, error) {
	if !w.detector.Detect(page) {
		return page, nil
	}

	w.logger.Warn("anti-automation interstitial detected, waiting for it to clear",
		zap.String("url", rawURL),
		zap.Duration("max_wait", w.maxWait))

	deadline := time.Now().Add(w.maxWait)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return page, fmt.Errorf("interstitial wait: %w", ctx.Err())
		case <-ticker.C:
		}

		refreshed, err := w.renderer.Render(ctx, rawURL)
		if err != nil {
			w.logger.Debug("re-render during interstitial wait failed",
				zap.String("url", rawURL), zap.Error(err))
			continue
		}
		page = refreshed
		if !w.detector.Detect(page) {
			w.logger.Info("interstitial cleared", zap.String("url", rawURL))
			return page, nil
		}
	}

	w.logger.Warn("interstitial wait exhausted, continuing degraded", zap.String("url", rawURL))
	return page, ErrTimeout
}
