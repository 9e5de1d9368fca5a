package config

import "time"

// Highlight Detection Constants
const (
	// DefaultConfidenceThreshold discards proposals the scorer is not sure about
	DefaultConfidenceThreshold = 0.7

	// MinHighlightDuration is the shortest highlight worth keeping, in seconds
	MinHighlightDuration = 5.0

	// MaxHighlightDuration is the longest highlight worth keeping, in seconds
	MaxHighlightDuration = 120.0

	// DefaultMergeIoU is the time-axis overlap above which proposals merge
	DefaultMergeIoU = 0.3

	// AudioSpikeMultiplier is how far above the rolling mean energy must rise
	AudioSpikeMultiplier = 1.5

	// ChatSpikeMultiplier is how far above baseline the chat rate must rise
	ChatSpikeMultiplier = 2.0
)

// Orchestration Constants
const (
	// MaxTaskRetries bounds transient-failure retries per task
	MaxTaskRetries = 3

	// RetryBackoffBase is the first retry delay; doubles per attempt
	RetryBackoffBase = 10 * time.Second

	// ClaimPollInterval is how long an idle worker waits between claim attempts
	ClaimPollInterval = 2 * time.Second

	// StaleRunningAge is how long a RUNNING task may go without progress
	// before the reaper requeues it
	StaleRunningAge = 30 * time.Minute
)

// Live Capture Constants
const (
	// LiveCheckInterval is how often a session polls the channel's live status
	LiveCheckInterval = 60 * time.Second

	// MaxOfflineChecks forces finalization after this many consecutive
	// offline polls
	MaxOfflineChecks = 5

	// MaxReconnectAttempts bounds reconnects before finalizing partial footage
	MaxReconnectAttempts = 5

	// ErrorCooldown is the wait before an errored session may return to idle
	ErrorCooldown = 2 * time.Minute

	// SlidingWindow is the span of signals the live scorer looks at
	SlidingWindow = 5 * time.Minute

	// LiveScoreInterval is how often the windowed scorer runs while capturing
	LiveScoreInterval = 30 * time.Second

	// ChatWindowSeconds buckets chat excitement into windows of this size
	ChatWindowSeconds = 30
)

// Clip Output Constants
const (
	// VerticalWidth and VerticalHeight give the 9:16 output frame
	VerticalWidth  = 720
	VerticalHeight = 1280

	// SquareSize gives the 1:1 output frame
	SquareSize = 1080

	// VideoCodec is the clip encoding codec
	VideoCodec = "libx264"

	// AudioCodec is the clip audio codec
	AudioCodec = "aac"

	// VideoPreset is the ffmpeg encoding speed preset
	VideoPreset = "fast"

	// VideoCRF is the constant rate factor for clip encodes
	VideoCRF = 23

	// KeyframeTolerance is the allowed drift between requested and actual
	// clip duration due to container keyframe alignment, in seconds
	KeyframeTolerance = 2.0
)
