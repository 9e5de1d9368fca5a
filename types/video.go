package types

import "time"

// VideoStatus tracks a video through the processing pipeline. Transitions are
// driven only by the orchestrator; an ARCHIVED video is immutable except for
// deletion.
type VideoStatus string

const (
	VideoUploaded   VideoStatus = "UPLOADED"
	VideoProcessing VideoStatus = "PROCESSING"
	VideoProcessed  VideoStatus = "PROCESSED"
	VideoError      VideoStatus = "ERROR"
	VideoArchived   VideoStatus = "ARCHIVED"
)

// VideoSource identifies where a video came from.
type VideoSource string

const (
	SourceUpload       VideoSource = "UPLOAD"
	SourceTwitchStream VideoSource = "TWITCH_STREAM"
	SourceTwitchVOD    VideoSource = "TWITCH_VOD"
)

// Video is the unit of ingested media. It owns zero or more Highlights and
// Clips.
type Video struct {
	ID               string      `json:"id"`
	Filename         string      `json:"filename"`
	OriginalFilename string      `json:"original_filename"`
	FilePath         string      `json:"file_path"`
	FileSize         int64       `json:"file_size"`
	Duration         float64     `json:"duration,omitempty"`
	Format           string      `json:"format"`
	Resolution       string      `json:"resolution,omitempty"`
	Source           VideoSource `json:"source"`
	Status           VideoStatus `json:"status"`
	Transcription    string      `json:"transcription,omitempty"`
	TwitchStreamID   string      `json:"twitch_stream_id,omitempty"`
	TwitchTitle      string      `json:"twitch_title,omitempty"`
	TwitchGame       string      `json:"twitch_game,omitempty"`
	UploadedAt       time.Time   `json:"uploaded_at"`
	ProcessedAt      *time.Time  `json:"processed_at,omitempty"`
}

// HighlightType categorizes a detected moment of interest.
type HighlightType string

const (
	HighlightGameplayMoment    HighlightType = "GAMEPLAY_MOMENT"
	HighlightEmotionalReaction HighlightType = "EMOTIONAL_REACTION"
	HighlightChatSpike         HighlightType = "CHAT_SPIKE"
	HighlightContentPeak       HighlightType = "CONTENT_PEAK"
	HighlightClipThatMoment    HighlightType = "CLIP_THAT_MOMENT"
	HighlightCustomPrompt      HighlightType = "CUSTOM_PROMPT"
)

// Highlight is a scored, time-bounded candidate moment within a Video.
// Highlights are never mutated after creation; re-running detection replaces
// the set for the video.
type Highlight struct {
	ID          string            `json:"id"`
	VideoID     string            `json:"video_id"`
	StartTime   float64           `json:"start_time"`
	EndTime     float64           `json:"end_time"`
	Confidence  float64           `json:"confidence"`
	Type        HighlightType     `json:"type"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ClipFormat selects the output aspect handling for a rendered clip.
type ClipFormat string

const (
	FormatHorizontal ClipFormat = "HORIZONTAL"
	FormatVertical   ClipFormat = "VERTICAL"
	FormatSquare     ClipFormat = "SQUARE"
)

// Clip is a rendered media artifact derived from a Video over a time range.
// HighlightID is a weak reference: a clip survives highlight deletion with
// the reference cleared. Clips are immutable once created.
type Clip struct {
	ID           string     `json:"id"`
	VideoID      string     `json:"video_id"`
	HighlightID  string     `json:"highlight_id,omitempty"`
	Filename     string     `json:"filename"`
	FilePath     string     `json:"file_path"`
	FileSize     int64      `json:"file_size"`
	Duration     float64    `json:"duration"`
	StartTime    float64    `json:"start_time"`
	EndTime      float64    `json:"end_time"`
	Format       ClipFormat `json:"format"`
	HasSubtitles bool       `json:"has_subtitles"`
	HasOverlay   bool       `json:"has_overlay"`
	CreatedAt    time.Time  `json:"created_at"`
}
