// Package store defines the persistence boundaries of the pipeline: the
// TaskStore the orchestrator schedules against and the MetadataStore holding
// video, highlight, and clip records. In-memory implementations back tests
// and single-node runs; store/redisq and store/postgres back deployments.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/KenB-Good/ClipMaster/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// TaskStore persists ProcessingTasks. Claim is the single operation that must
// be atomic: it transitions exactly one PENDING task to RUNNING and never
// hands the same task to two claimants.
type TaskStore interface {
	Create(ctx context.Context, task *types.ProcessingTask) error
	Get(ctx context.Context, id string) (*types.ProcessingTask, error)
	// FindActive returns a PENDING or RUNNING task for (videoID, type), or
	// nil when none exists. Backs idempotent submission.
	FindActive(ctx context.Context, videoID string, taskType types.TaskType) (*types.ProcessingTask, error)
	// Pending returns PENDING tasks ordered by creation time.
	Pending(ctx context.Context) ([]*types.ProcessingTask, error)
	// Running returns RUNNING tasks, oldest start first.
	Running(ctx context.Context) ([]*types.ProcessingTask, error)
	ListByVideo(ctx context.Context, videoID string) ([]*types.ProcessingTask, error)
	List(ctx context.Context, status types.TaskStatus, taskType types.TaskType, limit int) ([]*types.ProcessingTask, error)

	// Claim CAS-transitions id from PENDING to RUNNING on behalf of
	// workerID. Returns false when another claimant won or the task left
	// PENDING in the meantime.
	Claim(ctx context.Context, id, workerID string, at time.Time) (bool, error)
	// SetProgress records progress monotonically: a lower value than the
	// stored one is ignored, not an error.
	SetProgress(ctx context.Context, id string, progress float64) error
	Complete(ctx context.Context, id string, result json.RawMessage, at time.Time) error
	// Fail either requeues the task (retry=true: status PENDING, attempt
	// incremented, claimable no earlier than notBefore) or marks it
	// terminally FAILED.
	Fail(ctx context.Context, id string, cause string, retry bool, notBefore time.Time, at time.Time) error
	// Cancel marks a PENDING task CANCELLED immediately, or flags a RUNNING
	// task for cooperative cancellation. Returns the status after the call.
	Cancel(ctx context.Context, id string, at time.Time) (types.TaskStatus, error)
	// FinishCancelled settles a RUNNING task whose worker observed the
	// cancellation flag.
	FinishCancelled(ctx context.Context, id string, at time.Time) error
}

// MetadataStore persists videos, highlights, and clips.
type MetadataStore interface {
	CreateVideo(ctx context.Context, v *types.Video) error
	GetVideo(ctx context.Context, id string) (*types.Video, error)
	UpdateVideoStatus(ctx context.Context, id string, status types.VideoStatus, processedAt *time.Time) error
	// UpdateVideoMedia fills in probed media facts after ingest or capture.
	UpdateVideoMedia(ctx context.Context, id string, size int64, duration float64, resolution string) error
	SetVideoTranscription(ctx context.Context, id string, transcription string) error
	ListVideos(ctx context.Context, status types.VideoStatus, limit int) ([]*types.Video, error)
	// ArchivedBefore returns ARCHIVED videos uploaded before the cutoff, for
	// the retention sweep.
	ArchivedBefore(ctx context.Context, cutoff time.Time) ([]*types.Video, error)
	DeleteVideo(ctx context.Context, id string) error

	// ReplaceHighlights swaps the video's highlight set atomically;
	// re-running detection supersedes, never appends.
	ReplaceHighlights(ctx context.Context, videoID string, hs []*types.Highlight) error
	ListHighlights(ctx context.Context, videoID string) ([]*types.Highlight, error)
	GetHighlight(ctx context.Context, id string) (*types.Highlight, error)
	// DeleteHighlight removes a highlight and clears the weak reference on
	// any clip derived from it.
	DeleteHighlight(ctx context.Context, id string) error

	CreateClip(ctx context.Context, c *types.Clip) error
	GetClip(ctx context.Context, id string) (*types.Clip, error)
	ListClips(ctx context.Context, videoID string) ([]*types.Clip, error)
	DeleteClip(ctx context.Context, id string) error
}
