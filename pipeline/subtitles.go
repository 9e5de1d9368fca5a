package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/KenB-Good/ClipMaster/media"
	"github.com/KenB-Good/ClipMaster/orchestrator"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

// SubtitleGeneration renders a standalone SRT file next to an existing clip,
// rebased from the source video's transcript.
type SubtitleGeneration struct {
	meta store.MetadataStore
}

// NewSubtitleGeneration wires the handler.
func NewSubtitleGeneration(meta store.MetadataStore) *SubtitleGeneration {
	return &SubtitleGeneration{meta: meta}
}

func (h *SubtitleGeneration) Type() types.TaskType { return types.TaskSubtitleGeneration }

func (h *SubtitleGeneration) Run(ctx context.Context, task *types.ProcessingTask, report orchestrator.ProgressFunc) (any, error) {
	cfg, err := types.DecodeConfig[types.SubtitleGenerationConfig](task)
	if err != nil {
		return nil, err
	}
	if cfg.ClipID == "" {
		return nil, types.Invalid(fmt.Errorf("subtitle generation requires a clip id"))
	}

	clip, err := h.meta.GetClip(ctx, cfg.ClipID)
	if err == store.ErrNotFound {
		return nil, types.Invalid(fmt.Errorf("clip %s does not exist", cfg.ClipID))
	}
	if err != nil {
		return nil, types.Transient(err)
	}
	video, err := loadVideo(ctx, h.meta, clip.VideoID)
	if err != nil {
		return nil, err
	}
	report(20)

	transcript, err := media.ReadTranscript(media.TranscriptSidecarPath(video.FilePath))
	if err != nil {
		return nil, err
	}
	if transcript == nil {
		return nil, types.Invalid(fmt.Errorf("video %s has no transcription to subtitle from", video.ID))
	}

	segments := media.RebaseSegments(transcript.Segments, clip.StartTime, clip.Duration)
	if len(segments) == 0 {
		return nil, types.Invalid(fmt.Errorf("no transcript segments overlap clip %s", clip.ID))
	}
	report(60)

	srtPath := strings.TrimSuffix(clip.FilePath, filepath.Ext(clip.FilePath)) + ".srt"
	if err := media.WriteSRT(segments, srtPath); err != nil {
		return nil, err
	}

	return types.SubtitleGenerationResult{
		ClipID:       clip.ID,
		Location:     srtPath,
		SegmentCount: len(segments),
	}, nil
}

var _ orchestrator.Handler = (*SubtitleGeneration)(nil)
