// Package metadata implements the file-backed work snapshot store. One JSON
// document per work identity; the store is the single writer for snapshot
// state and serializes all mutations behind a mutex.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
)

// FileStore persists work snapshots as JSON files under a base directory.
type FileStore struct {
	baseDir string
	clock   book.Clock
	logger  *zap.Logger

	// mu serializes mutations; reads go through the filesystem and are safe
	// alongside a writer because files are written whole.
	mu sync.Mutex
}

// NewFileStore creates the base directory if needed and returns the store.
func NewFileStore(baseDir string, clock book.Clock, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("metadata base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}
	if clock == nil {
		clock = book.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{baseDir: baseDir, clock: clock, logger: logger}, nil
}

// Open loads the snapshot for an identity. It never mutates stored data.
func (s *FileStore) Open(_ context.Context, identity string) (book.WorkSnapshot, error) {
	data, err := os.ReadFile(s.path(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return book.WorkSnapshot{}, book.ErrNotFound
		}
		return book.WorkSnapshot{}, fmt.Errorf("read snapshot %s: %w", identity, err)
	}
	var snap book.WorkSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return book.WorkSnapshot{}, fmt.Errorf("snapshot %s is corrupt: %w", identity, err)
	}
	return snap, nil
}

// Create persists a new snapshot. It refuses to overwrite an existing one;
// forced re-discovery goes through Replace explicitly.
func (s *FileStore) Create(ctx context.Context, snap book.WorkSnapshot) (book.WorkSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Open(ctx, snap.Identity); err == nil {
		return book.WorkSnapshot{}, book.ErrSnapshotExists
	} else if !errors.Is(err, book.ErrNotFound) {
		return book.WorkSnapshot{}, err
	}

	now := s.clock.Now()
	snap.CreatedAt = now
	snap.UpdatedAt = now
	if err := s.write(snap); err != nil {
		return book.WorkSnapshot{}, err
	}
	s.logger.Info("work snapshot created",
		zap.String("identity", snap.Identity),
		zap.Int("chapters", len(snap.Chapters)))
	return snap, nil
}

// Replace overwrites any existing snapshot and resets all completion flags.
func (s *FileStore) Replace(_ context.Context, snap book.WorkSnapshot) (book.WorkSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range snap.Chapters {
		snap.Chapters[i].Done = false
		snap.Chapters[i].Degraded = false
	}
	now := s.clock.Now()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now
	if err := s.write(snap); err != nil {
		return book.WorkSnapshot{}, err
	}
	s.logger.Info("work snapshot replaced",
		zap.String("identity", snap.Identity),
		zap.Int("chapters", len(snap.Chapters)))
	return snap, nil
}

// MarkComplete sets the completion flag on one chapter. Marking an already
// complete chapter is a no-op.
func (s *FileStore) MarkComplete(ctx context.Context, identity string, ordinal int) error {
	return s.mutateChapter(ctx, identity, ordinal, func(ch *book.ChapterRecord) bool {
		if ch.Done {
			return false
		}
		ch.Done = true
		return true
	})
}

// MarkDegraded flags a chapter as fetched despite an unresolved stall.
func (s *FileStore) MarkDegraded(ctx context.Context, identity string, ordinal int) error {
	return s.mutateChapter(ctx, identity, ordinal, func(ch *book.ChapterRecord) bool {
		if ch.Degraded {
			return false
		}
		ch.Degraded = true
		return true
	})
}

// ListPending returns incomplete chapters in original ordinal order.
func (s *FileStore) ListPending(ctx context.Context, identity string) ([]book.ChapterRecord, error) {
	snap, err := s.Open(ctx, identity)
	if err != nil {
		return nil, err
	}
	return snap.Pending(), nil
}

func (s *FileStore) mutateChapter(ctx context.Context, identity string, ordinal int, apply func(*book.ChapterRecord) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Open(ctx, identity)
	if err != nil {
		return err
	}
	for i := range snap.Chapters {
		if snap.Chapters[i].Index != ordinal {
			continue
		}
		if !apply(&snap.Chapters[i]) {
			return nil
		}
		snap.UpdatedAt = s.clock.Now()
		return s.write(snap)
	}
	return fmt.Errorf("chapter ordinal %d not found in snapshot %s", ordinal, identity)
}

func (s *FileStore) write(snap book.WorkSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snap.Identity, err)
	}
	if err := os.WriteFile(s.path(snap.Identity), data, 0o600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", snap.Identity, err)
	}
	return nil
}

func (s *FileStore) path(identity string) string {
	return filepath.Join(s.baseDir, identity+".json")
}
