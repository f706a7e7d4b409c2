package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/khoward/webserial/internal/book"
)

func TestPathIsDeterministic(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	ch := book.ChapterRecord{Index: 7, Title: `Ch 7: "The Gate"`}
	p1 := store.Path("abc123", ch)
	p2 := store.Path("abc123", ch)
	require.Equal(t, p1, p2)
	require.Equal(t, "0007_Ch 7_ _The Gate_.txt", filepath.Base(p1))
}

func TestWriteThenExists(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)
	ch := book.ChapterRecord{Index: 1, Title: "One"}

	require.False(t, store.Exists("id1", ch))

	path, err := store.Write(context.Background(), "id1", ch, "chapter body")
	require.NoError(t, err)
	require.True(t, store.Exists("id1", ch))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "chapter body", string(data))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a_b_c_d", SanitizeFilename(`a<b>c?d`))
	require.Equal(t, "plain title", SanitizeFilename("plain title"))
}
