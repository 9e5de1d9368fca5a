package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/KenB-Good/ClipMaster/inference"
	"github.com/KenB-Good/ClipMaster/media"
	"github.com/KenB-Good/ClipMaster/orchestrator"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

// Transcription extracts a video's audio and runs it through the speech
// model. The plain text lands on the video record; the timed segments are
// persisted as a sidecar for detection and subtitle burn-in.
type Transcription struct {
	meta    store.MetadataStore
	audio   AudioExtractor
	stt     inference.Transcriber
	tempDir string
}

// NewTranscription wires the handler.
func NewTranscription(meta store.MetadataStore, audio AudioExtractor, stt inference.Transcriber, tempDir string) *Transcription {
	return &Transcription{meta: meta, audio: audio, stt: stt, tempDir: tempDir}
}

func (h *Transcription) Type() types.TaskType { return types.TaskTranscription }

func (h *Transcription) Run(ctx context.Context, task *types.ProcessingTask, report orchestrator.ProgressFunc) (any, error) {
	video, err := loadVideo(ctx, h.meta, task.VideoID)
	if err != nil {
		return nil, err
	}
	cfg, err := types.DecodeConfig[types.TranscriptionConfig](task)
	if err != nil {
		return nil, err
	}

	report(5)
	audioPath := filepath.Join(h.tempDir, task.ID+".wav")
	if err := h.audio.ExtractAudio(ctx, video.FilePath, audioPath); err != nil {
		return nil, err
	}
	defer os.Remove(audioPath)
	report(30)

	transcript, err := h.stt.Transcribe(ctx, audioPath, cfg.Language)
	if err != nil {
		return nil, err
	}
	report(85)

	if err := media.WriteTranscript(media.TranscriptSidecarPath(video.FilePath), transcript); err != nil {
		return nil, types.Transient(err)
	}
	if err := h.meta.SetVideoTranscription(ctx, video.ID, transcript.Text); err != nil {
		return nil, types.Transient(err)
	}

	return types.TranscriptionResult{
		Text:         transcript.Text,
		Language:     transcript.Language,
		SegmentCount: len(transcript.Segments),
	}, nil
}

var _ orchestrator.Handler = (*Transcription)(nil)
