package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType identifies the kind of work a ProcessingTask performs.
type TaskType string

const (
	TaskTranscription      TaskType = "TRANSCRIPTION"
	TaskHighlightDetection TaskType = "HIGHLIGHT_DETECTION"
	TaskClipGeneration     TaskType = "CLIP_GENERATION"
	TaskSubtitleGeneration TaskType = "SUBTITLE_GENERATION"
	TaskStreamCapture      TaskType = "STREAM_CAPTURE"
)

// TaskStatus is the task state machine: PENDING -> RUNNING -> {COMPLETED,
// FAILED, CANCELLED}. FAILED loops back to PENDING while retries remain; the
// attempt counter is incremented instead of minting a new task identity.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ResourceClass partitions workers by the resource a task type saturates.
// GPU-bound claims are bounded by pool size, not by the orchestrator.
type ResourceClass string

const (
	ResourceCPU ResourceClass = "CPU"
	ResourceGPU ResourceClass = "GPU"
)

// ResourceClassFor maps a task type onto the pool that may claim it.
// Highlight detection rides the heavy inference models.
func ResourceClassFor(t TaskType) ResourceClass {
	if t == TaskHighlightDetection {
		return ResourceGPU
	}
	return ResourceCPU
}

// ProcessingTask is the orchestrator's unit of schedulable work. Status and
// progress are mutated exclusively through the orchestrator.
type ProcessingTask struct {
	ID              string          `json:"id"`
	VideoID         string          `json:"video_id,omitempty"`
	Type            TaskType        `json:"type"`
	Status          TaskStatus      `json:"status"`
	Progress        float64         `json:"progress"`
	Config          json.RawMessage `json:"config,omitempty"`
	CustomPrompt    string          `json:"custom_prompt,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Attempt         int             `json:"attempt"`
	NotBefore       time.Time       `json:"not_before,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	WorkerID        string          `json:"worker_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// Task configuration is a closed union keyed by TaskType, so each worker's
// expected payload is checked when decoded rather than probed at runtime.

type TranscriptionConfig struct {
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

type HighlightDetectionConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	UseTranscription    bool    `json:"use_transcription"`
	UseChat             bool    `json:"use_chat"`
}

type ClipGenerationConfig struct {
	// HighlightID selects the source range; Start/End supply an explicit
	// range when no detection ran. Exactly one of the two must be set.
	HighlightID   string     `json:"highlight_id,omitempty"`
	StartTime     float64    `json:"start_time,omitempty"`
	EndTime       float64    `json:"end_time,omitempty"`
	Format        ClipFormat `json:"format,omitempty"`
	BurnSubtitles bool       `json:"burn_subtitles"`
}

// ExplicitRange reports whether the config carries its own time range
// instead of referencing a highlight.
func (c ClipGenerationConfig) ExplicitRange() bool {
	return c.HighlightID == "" && c.EndTime > c.StartTime
}

type SubtitleGenerationConfig struct {
	ClipID   string `json:"clip_id"`
	FontSize int    `json:"font_size,omitempty"`
}

type StreamCaptureConfig struct {
	Channel        string `json:"channel"`
	AutoClip       bool   `json:"auto_clip"`
	ChatMonitoring bool   `json:"chat_monitoring"`
}

// EncodeConfig marshals a typed config for storage on a task row.
func EncodeConfig(cfg any) (json.RawMessage, error) {
	if cfg == nil {
		return nil, nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode task config: %w", err)
	}
	return b, nil
}

// DecodeConfig unmarshals a task's config into the union member for its
// type. An absent config yields the zero value.
func DecodeConfig[T any](task *ProcessingTask) (T, error) {
	var cfg T
	if len(task.Config) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(task.Config, &cfg); err != nil {
		return cfg, WrapTask(task.ID, KindInvalidInput, fmt.Errorf("decode %s config: %w", task.Type, err))
	}
	return cfg, nil
}

// Task result payloads, stored JSON-encoded on completion.

type TranscriptionResult struct {
	Text         string `json:"text"`
	Language     string `json:"language,omitempty"`
	SegmentCount int    `json:"segment_count"`
}

type HighlightDetectionResult struct {
	HighlightCount int      `json:"highlight_count"`
	HighlightIDs   []string `json:"highlight_ids,omitempty"`
}

type ClipGenerationResult struct {
	ClipID   string  `json:"clip_id"`
	Location string  `json:"location"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
}

type SubtitleGenerationResult struct {
	ClipID       string `json:"clip_id"`
	Location     string `json:"location"`
	SegmentCount int    `json:"segment_count"`
}

type StreamCaptureResult struct {
	VideoID  string  `json:"video_id"`
	Duration float64 `json:"duration"`
	Partial  bool    `json:"partial"`
}

// EncodeResult marshals a typed result for storage on a task row.
func EncodeResult(res any) (json.RawMessage, error) {
	if res == nil {
		return nil, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode task result: %w", err)
	}
	return b, nil
}
