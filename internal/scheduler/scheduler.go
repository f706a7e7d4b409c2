// Package scheduler runs the bounded-concurrency chapter download pool over a
// persisted work snapshot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
	"github.com/khoward/webserial/internal/pipeline"
	"github.com/khoward/webserial/internal/progress"
	"github.com/khoward/webserial/internal/stall"
)

// stallResolver clears anti-automation interstitials before extraction.
// stall.Waiter is the production implementation.
type stallResolver interface {
	Resolve(ctx context.Context, rawURL string, page book.Page) (book.Page, error)
}

// Config tunes the download pool.
type Config struct {
	// Concurrency is the worker pool size (default 3).
	Concurrency int
	// PageRetries is the number of render retries after the first attempt.
	PageRetries uint
	// RetryDelay is the base delay between render attempts.
	RetryDelay time.Duration
}

// Scheduler drains a snapshot's pending chapters through a fixed-size worker
// pool. Completion state is mutated only by the single collector goroutine, so
// workers never race on the snapshot store.
type Scheduler struct {
	renderer  book.Renderer
	extractor book.Extractor
	store     book.SnapshotStore
	artifacts book.ArtifactStore
	resolver  stallResolver
	emitter   progress.Emitter
	clock     book.Clock
	logger    *zap.Logger
	cfg       Config
}

// New constructs a Scheduler. A nil resolver disables interstitial handling
// and a nil emitter discards progress events.
func New(
	renderer book.Renderer,
	extractor book.Extractor,
	store book.SnapshotStore,
	artifacts book.ArtifactStore,
	resolver *stall.Waiter,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	s := &Scheduler{
		renderer:  renderer,
		extractor: extractor,
		store:     store,
		artifacts: artifacts,
		emitter:   emitter,
		clock:     book.SystemClock{},
		logger:    logger,
		cfg:       cfg,
	}
	if resolver != nil {
		s.resolver = resolver
	}
	if s.emitter == nil {
		s.emitter = progress.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cfg.Concurrency <= 0 {
		s.cfg.Concurrency = 3
	}
	return s
}

type outcome int

const (
	outcomeFetched outcome = iota
	outcomeSkipped
	outcomeFailed
)

type result struct {
	ch       book.ChapterRecord
	outcome  outcome
	degraded bool
	bytes    int64
	dur      time.Duration
	err      error
}

// Run downloads every pending chapter of the snapshot. With force set, all
// chapters are re-fetched regardless of completion flags or existing
// artifacts. Chapter failures are isolated; the returned summary reports the
// per-chapter outcomes. Run returns an error only for setup failures or
// context cancellation, in which case undownloaded chapters stay pending.
func (s *Scheduler) Run(ctx context.Context, snap book.WorkSnapshot, force bool) (book.RunSummary, error) {
	pipe, err := pipeline.New(snap.Rules, s.logger)
	if err != nil {
		return book.RunSummary{}, fmt.Errorf("compile text pipeline: %w", err)
	}

	var chapters []book.ChapterRecord
	if force {
		chapters = append(chapters, snap.Chapters...)
	} else {
		chapters = snap.Pending()
	}

	runID := uuid.New()
	site := book.Host(snap.MenuURL)
	start := s.clock.Now()

	s.emit(progress.Event{
		RunID: runID, WorkID: snap.Identity, Stage: progress.StageWorkStart,
		URL: snap.MenuURL, Site: site,
	})
	s.logger.Info("download run starting",
		zap.String("identity", snap.Identity),
		zap.Int("pending", len(chapters)),
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Bool("force", force))

	jobs := make(chan book.ChapterRecord)
	results := make(chan result)

	var workers sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for ch := range jobs {
				results <- s.runChapter(ctx, runID, site, snap, pipe, ch, force)
			}
		}()
	}

	// Collector is the only goroutine that touches the snapshot store or the
	// summary.
	var summary book.RunSummary
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for res := range results {
			s.collect(ctx, runID, snap.Identity, site, res, &summary)
		}
	}()

feed:
	for _, ch := range chapters {
		select {
		case jobs <- ch:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	workers.Wait()
	close(results)
	<-collectorDone

	dur := s.clock.Now().Sub(start)
	if err := ctx.Err(); err != nil {
		s.emit(progress.Event{
			RunID: runID, WorkID: snap.Identity, Stage: progress.StageWorkError,
			Site: site, Dur: dur, Note: err.Error(),
		})
		s.logger.Warn("download run canceled", zap.String("summary", summary.String()))
		return summary, fmt.Errorf("download run: %w", err)
	}

	s.emit(progress.Event{
		RunID: runID, WorkID: snap.Identity, Stage: progress.StageWorkDone,
		Site: site, Dur: dur,
	})
	s.logger.Info("download run complete",
		zap.String("identity", snap.Identity),
		zap.String("summary", summary.String()),
		zap.Duration("dur", dur))
	return summary, nil
}

// runChapter fetches, transforms, and persists a single chapter. It never
// mutates the snapshot store.
func (s *Scheduler) runChapter(ctx context.Context, runID uuid.UUID, site string, snap book.WorkSnapshot, pipe *pipeline.Pipeline, ch book.ChapterRecord, force bool) result {
	if err := ctx.Err(); err != nil {
		return result{ch: ch, outcome: outcomeFailed, err: err}
	}
	if !force && s.artifacts.Exists(snap.Identity, ch) {
		return result{ch: ch, outcome: outcomeSkipped}
	}

	s.emit(progress.Event{
		RunID: runID, WorkID: snap.Identity, Stage: progress.StageChapterStart,
		Chapter: ch.Index, Title: ch.Title, URL: ch.URL, Site: site,
	})

	start := s.clock.Now()
	text, degraded, err := s.fetchChapter(ctx, runID, site, snap.Identity, snap.Rules, ch)
	if err != nil {
		return result{ch: ch, outcome: outcomeFailed, err: err}
	}

	processed := pipe.Process(text)
	if strings.TrimSpace(processed) == "" {
		return result{ch: ch, outcome: outcomeFailed, err: fmt.Errorf("chapter %d yielded no content", ch.Index)}
	}

	if _, err := s.artifacts.Write(ctx, snap.Identity, ch, processed); err != nil {
		return result{ch: ch, outcome: outcomeFailed, err: fmt.Errorf("write artifact: %w", err)}
	}

	return result{
		ch:       ch,
		outcome:  outcomeFetched,
		degraded: degraded,
		bytes:    int64(len(processed)),
		dur:      s.clock.Now().Sub(start),
	}
}

// fetchChapter renders the chapter's page(s), walking content pagination with
// the same cycle guards as list traversal, and returns the joined raw text.
func (s *Scheduler) fetchChapter(ctx context.Context, runID uuid.UUID, site, identity string, rules book.RuleSet, ch book.ChapterRecord) (string, bool, error) {
	var (
		parts    []string
		degraded bool
	)
	visited := make(map[string]struct{})
	current := ch.URL

	for pageNum := 1; ; pageNum++ {
		page, err := s.renderPage(ctx, current)
		if err != nil {
			if pageNum == 1 {
				return "", false, fmt.Errorf("render chapter page %s: %w", current, err)
			}
			s.logger.Warn("render of chapter continuation page failed, keeping text gathered so far",
				zap.String("url", current), zap.Int("chapter", ch.Index), zap.Error(err))
			break
		}

		if s.resolver != nil {
			resolved, err := s.resolver.Resolve(ctx, current, page)
			switch {
			case err == nil:
				page = resolved
			case errors.Is(err, stall.ErrTimeout):
				page = resolved
				degraded = true
			default:
				return "", false, err
			}
		}

		frags, err := s.extractor.Strings(page, rules.ContentXPath)
		if err != nil {
			if pageNum == 1 {
				return "", false, fmt.Errorf("extract content: %w", err)
			}
			break
		}
		if len(frags) == 0 {
			s.logger.Warn("content rule matched nothing",
				zap.String("url", current), zap.Int("chapter", ch.Index))
		}
		parts = append(parts, frags...)
		s.emit(progress.Event{
			RunID: runID, WorkID: identity, Stage: progress.StagePageDone,
			Chapter: ch.Index, Title: ch.Title, URL: current, Site: site,
		})

		next, ok := s.nextContentPage(page, current, rules, visited)
		if !ok {
			break
		}
		visited[normalizeOrRaw(current)] = struct{}{}
		current = next
	}

	return strings.Join(parts, "\n\n"), degraded, nil
}

// nextContentPage applies the pagination termination conditions within a
// chapter: no rule, no match, self-loop, or a previously visited address.
func (s *Scheduler) nextContentPage(page book.Page, currentURL string, rules book.RuleSet, visited map[string]struct{}) (string, bool) {
	if rules.ContentPaginationXPath == "" {
		return "", false
	}
	links, err := s.extractor.Links(page, rules.ContentPaginationXPath)
	if err != nil || len(links) == 0 {
		return "", false
	}
	next := links[0].Href
	nextNorm := normalizeOrRaw(next)
	if nextNorm == normalizeOrRaw(currentURL) {
		return "", false
	}
	if _, ok := visited[nextNorm]; ok {
		return "", false
	}
	return next, true
}

// renderPage renders with bounded retries. Context cancellation aborts the
// retry loop immediately.
func (s *Scheduler) renderPage(ctx context.Context, rawURL string) (book.Page, error) {
	var page book.Page
	err := retry.Do(
		func() error {
			p, err := s.renderer.Render(ctx, rawURL)
			if err != nil {
				return err
			}
			page = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.PageRetries+1),
		retry.Delay(s.cfg.RetryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return book.Page{}, err
	}
	return page, nil
}

// collect applies one chapter result to the snapshot store and the summary.
// It runs on the collector goroutine only.
func (s *Scheduler) collect(ctx context.Context, runID uuid.UUID, identity, site string, res result, summary *book.RunSummary) {
	evt := progress.Event{
		RunID:   runID,
		WorkID:  identity,
		Chapter: res.ch.Index,
		Title:   res.ch.Title,
		URL:     res.ch.URL,
		Site:    site,
		Bytes:   res.bytes,
		Dur:     res.dur,
	}

	switch res.outcome {
	case outcomeSkipped:
		summary.Skipped++
		evt.Stage = progress.StageChapterSkip
		s.emit(evt)
		// The artifact already exists; record completion so future runs do
		// not reconsider the chapter.
		if err := s.store.MarkComplete(ctx, identity, res.ch.Index); err != nil {
			s.logger.Warn("mark complete after skip failed",
				zap.Int("chapter", res.ch.Index), zap.Error(err))
		}

	case outcomeFailed:
		if isCancellation(res.err) {
			// Leave the chapter pending for the next run.
			return
		}
		summary.Failed++
		evt.Stage = progress.StageChapterFail
		evt.Note = res.err.Error()
		s.emit(evt)
		s.logger.Error("chapter download failed",
			zap.Int("chapter", res.ch.Index),
			zap.String("title", res.ch.Title),
			zap.String("url", res.ch.URL),
			zap.Error(res.err))

	case outcomeFetched:
		summary.Fetched++
		evt.Stage = progress.StageChapterDone
		s.emit(evt)
		if err := s.store.MarkComplete(ctx, identity, res.ch.Index); err != nil {
			s.logger.Warn("mark complete failed",
				zap.Int("chapter", res.ch.Index), zap.Error(err))
		}
		if res.degraded {
			summary.Degraded++
			degradedEvt := evt
			degradedEvt.Stage = progress.StageChapterDegraded
			s.emit(degradedEvt)
			if err := s.store.MarkDegraded(ctx, identity, res.ch.Index); err != nil {
				s.logger.Warn("mark degraded failed",
					zap.Int("chapter", res.ch.Index), zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now()
	}
	s.emitter.Emit(evt)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func normalizeOrRaw(rawURL string) string {
	norm, err := book.NormalizeURL(rawURL)
	if err != nil {
		return rawURL
	}
	return norm
}
