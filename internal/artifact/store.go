// Package artifact persists per-chapter text artifacts on the local
// filesystem. The path for a chapter is a pure function of its identity and
// record, which is what the downstream assembly step relies on.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/khoward/webserial/internal/book"
)

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Store writes chapter artifacts under <baseDir>/<identity>/.
type Store struct {
	baseDir string
}

// New validates the base directory and returns a Store.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("artifact base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Path maps a chapter to its artifact location without touching disk. The
// ordinal prefix keeps directory listings in reading order.
func (s *Store) Path(identity string, ch book.ChapterRecord) string {
	name := fmt.Sprintf("%04d_%s.txt", ch.Index, SanitizeFilename(ch.Title))
	return filepath.Join(s.baseDir, identity, name)
}

// Exists reports whether the chapter's artifact is already on disk.
func (s *Store) Exists(identity string, ch book.ChapterRecord) bool {
	info, err := os.Stat(s.Path(identity, ch))
	return err == nil && !info.IsDir()
}

// Write persists the processed chapter text and returns the artifact path.
func (s *Store) Write(_ context.Context, identity string, ch book.ChapterRecord, text string) (string, error) {
	path := s.Path(identity, ch)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create chapter directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return "", fmt.Errorf("write chapter artifact: %w", err)
	}
	return path, nil
}

// SanitizeFilename replaces characters that are invalid in filenames.
func SanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}
