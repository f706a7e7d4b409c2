package book

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no snapshot exists for the requested identity.
var ErrNotFound = errors.New("work snapshot not found")

// ErrSnapshotExists indicates a create would overwrite an existing snapshot;
// overwriting requires the explicit Replace path.
var ErrSnapshotExists = errors.New("work snapshot already exists")

// Renderer returns the final, rendered document for an address. Rendering is
// long-latency and fallible; implementations bound their own concurrency.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
}

// Extractor runs a structural query over a rendered page and returns matches
// in document order. Zero matches is a valid empty result, not an error.
type Extractor interface {
	// Links returns matched anchors with hrefs resolved against the page URL.
	Links(page Page, expr string) ([]Link, error)
	// Strings returns the text content of each match.
	Strings(page Page, expr string) ([]string, error)
	// Validate reports whether expr is a usable query.
	Validate(expr string) error
}

// SnapshotStore persists work snapshots. Open never mutates stored data and
// is safe to call concurrently with the mutation methods; mutations are
// serialized by the implementation.
type SnapshotStore interface {
	Open(ctx context.Context, identity string) (WorkSnapshot, error)
	Create(ctx context.Context, snap WorkSnapshot) (WorkSnapshot, error)
	// Replace is the explicit force re-discover path: it overwrites any
	// existing snapshot and resets all completion flags.
	Replace(ctx context.Context, snap WorkSnapshot) (WorkSnapshot, error)
	// MarkComplete is idempotent; marking an already-complete chapter is a
	// no-op.
	MarkComplete(ctx context.Context, identity string, ordinal int) error
	MarkDegraded(ctx context.Context, identity string, ordinal int) error
	ListPending(ctx context.Context, identity string) ([]ChapterRecord, error)
}

// ArtifactStore persists per-chapter text artifacts.
type ArtifactStore interface {
	Exists(identity string, ch ChapterRecord) bool
	Write(ctx context.Context, identity string, ch ChapterRecord, text string) (string, error)
	// Path maps a chapter to its artifact location without touching disk.
	Path(identity string, ch ChapterRecord) string
}

// StallDetector inspects a rendered page for an anti-automation interstitial.
type StallDetector interface {
	Detect(page Page) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
