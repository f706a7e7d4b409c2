package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/khoward/webserial/internal/progress"
)

func TestLogSinkEmitsStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	batch := []progress.Event{
		{
			RunID:   uuid.New(),
			WorkID:  "abc123",
			TS:      time.Now().UTC(),
			Stage:   progress.StageChapterDone,
			Chapter: 7,
			Title:   "Chapter 7",
			URL:     "https://example.com/ch/7",
			Site:    "example.com",
			Bytes:   512,
			Dur:     time.Second,
		},
		{RunID: uuid.New(), WorkID: "abc123", TS: time.Now().UTC(), Stage: progress.StageWorkDone, Site: "example.com"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 2, logs.Len())

	fields := logs.All()[0].ContextMap()
	require.Equal(t, "abc123", fields["work_id"])
	require.Equal(t, string(progress.StageChapterDone), fields["stage"])
	require.EqualValues(t, 7, fields["chapter"])
	require.Equal(t, "https://example.com/ch/7", fields["url"])

	// Work-level events carry no chapter fields.
	_, hasChapter := logs.All()[1].ContextMap()["chapter"]
	require.False(t, hasChapter)

	require.NoError(t, sink.Close(context.Background()))
}
