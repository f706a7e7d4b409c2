// Package progress defines the event stream emitted by discovery and
// download runs, and the hub that fans events out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageWorkStart       Stage = "WORK_START"
	StageWorkDone        Stage = "WORK_DONE"
	StageWorkError       Stage = "WORK_ERROR"
	StageChapterStart    Stage = "CHAPTER_START"
	StageChapterDone     Stage = "CHAPTER_DONE"
	StageChapterSkip     Stage = "CHAPTER_SKIP"
	StageChapterFail     Stage = "CHAPTER_FAIL"
	StageChapterDegraded Stage = "CHAPTER_DEGRADED"
	StagePageDone        Stage = "PAGE_DONE"
)

// Event captures a single milestone of a discovery or download run.
type Event struct {
	// RunID identifies one invocation of the engine.
	RunID uuid.UUID
	// WorkID is the identity of the work being processed.
	WorkID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Chapter is the 1-based chapter ordinal for chapter/page stages.
	Chapter int
	// Title is the chapter display title, when known.
	Title string
	// URL is the page or chapter address; it should not contain credentials.
	URL string
	// Site scopes the event to a host label.
	Site string
	// Bytes carries the processed content size for completions.
	Bytes int64
	// Dur captures execution latency for chapter and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.WorkID == "" {
		return errors.New("work id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageWorkStart, StageWorkDone, StageWorkError:
	case StageChapterStart, StageChapterDone, StageChapterSkip, StageChapterFail, StageChapterDegraded, StagePageDone:
		if e.Chapter < 1 {
			return fmt.Errorf("stage %s requires a chapter ordinal", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
