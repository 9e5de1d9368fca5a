// Package events connects the pipeline to Kafka: a producer publishing
// artifact lifecycle events and a consumer group turning capture requests
// into STREAM_CAPTURE tasks.
package events

import (
	"context"
	"time"

	"github.com/KenB-Good/ClipMaster/types"
)

// ArtifactEvent announces the creation or deletion of a stored artifact.
type ArtifactEvent struct {
	// Kind is VIDEO or CLIP.
	Kind string `json:"kind"`
	// Action is CREATED or DELETED.
	Action     string    `json:"action"`
	ArtifactID string    `json:"artifact_id"`
	VideoID    string    `json:"video_id,omitempty"`
	Location   string    `json:"location,omitempty"`
	Size       int64     `json:"size,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CaptureRequest asks the cluster to start recording a Twitch channel.
type CaptureRequest struct {
	Channel        string `json:"channel"`
	AutoClip       bool   `json:"auto_clip"`
	ChatMonitoring bool   `json:"chat_monitoring"`
	CustomPrompt   string `json:"custom_prompt,omitempty"`
}

// Enqueuer submits tasks; the orchestrator satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, videoID string, taskType types.TaskType, cfg any, prompt string) (*types.ProcessingTask, error)
}
