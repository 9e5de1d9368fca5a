package pipeline

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/KenB-Good/ClipMaster/highlight"
	"github.com/KenB-Good/ClipMaster/inference"
	"github.com/KenB-Good/ClipMaster/media"
	"github.com/KenB-Good/ClipMaster/orchestrator"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

// HighlightDetection gathers every available signal for a video and scores
// it. A failed extractor degrades to the remaining signals; only a fully
// empty signal set fails the task.
type HighlightDetection struct {
	meta      store.MetadataStore
	audio     AudioExtractor
	envelope  inference.AudioAnalyzer
	scenes    inference.SceneDetector
	scorerCfg highlight.Config
	matcher   highlight.PromptMatcher
	tempDir   string
	probe     func(path string) (media.MediaInfo, error)
	now       func() time.Time
}

// NewHighlightDetection wires the handler. matcher may be nil when custom
// prompts are not configured.
func NewHighlightDetection(meta store.MetadataStore, audio AudioExtractor, envelope inference.AudioAnalyzer,
	scenes inference.SceneDetector, scorerCfg highlight.Config, matcher highlight.PromptMatcher, tempDir string) *HighlightDetection {
	return &HighlightDetection{
		meta:      meta,
		audio:     audio,
		envelope:  envelope,
		scenes:    scenes,
		scorerCfg: scorerCfg,
		matcher:   matcher,
		tempDir:   tempDir,
		probe:     media.Probe,
		now:       time.Now,
	}
}

func (h *HighlightDetection) Type() types.TaskType { return types.TaskHighlightDetection }

func (h *HighlightDetection) Run(ctx context.Context, task *types.ProcessingTask, report orchestrator.ProgressFunc) (any, error) {
	video, err := loadVideo(ctx, h.meta, task.VideoID)
	if err != nil {
		return nil, err
	}
	cfg, err := types.DecodeConfig[types.HighlightDetectionConfig](task)
	if err != nil {
		return nil, err
	}

	signals := types.SignalSet{Duration: video.Duration}
	if signals.Duration == 0 {
		info, err := h.probe(video.FilePath)
		if err != nil {
			return nil, err
		}
		signals.Duration = info.Duration
	}
	report(10)

	if cfg.UseTranscription {
		transcript, err := media.ReadTranscript(media.TranscriptSidecarPath(video.FilePath))
		if err != nil {
			return nil, err
		}
		if transcript != nil {
			signals.Transcript = transcript.Segments
		}
	}

	signals.Energy = h.energySignal(ctx, task.ID, video.FilePath)
	if err := ctx.Err(); err != nil {
		return nil, types.WrapTask(task.ID, types.KindCancelled, err)
	}
	report(40)

	scenes, err := h.scenes.SceneChanges(ctx, video.FilePath)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, types.WrapTask(task.ID, types.KindCancelled, cerr)
		}
		log.Printf("⚠️ Scene detection for %s failed, scoring without it: %v", video.ID, err)
	} else {
		signals.SceneChanges = scenes
	}
	report(60)

	if cfg.UseChat {
		chat, err := media.ReadChatLog(media.ChatSidecarPath(video.FilePath))
		if err != nil {
			return nil, err
		}
		signals.Chat = chat
	}

	scorerCfg := h.scorerCfg
	if cfg.ConfidenceThreshold > 0 {
		scorerCfg.ConfidenceThreshold = cfg.ConfidenceThreshold
	}
	proposals, err := highlight.NewScorer(scorerCfg, h.matcher).Score(ctx, signals, task.CustomPrompt)
	if err != nil {
		return nil, err
	}
	report(90)

	now := h.now()
	highlights := make([]*types.Highlight, 0, len(proposals))
	ids := make([]string, 0, len(proposals))
	for _, p := range proposals {
		hl := &types.Highlight{
			ID:          uuid.NewString(),
			VideoID:     video.ID,
			StartTime:   p.StartTime,
			EndTime:     p.EndTime,
			Confidence:  p.Confidence,
			Type:        p.Type,
			Description: p.Description,
			Metadata:    p.Metadata,
			CreatedAt:   now,
		}
		highlights = append(highlights, hl)
		ids = append(ids, hl.ID)
	}
	if err := h.meta.ReplaceHighlights(ctx, video.ID, highlights); err != nil {
		return nil, types.Transient(err)
	}

	return types.HighlightDetectionResult{
		HighlightCount: len(highlights),
		HighlightIDs:   ids,
	}, nil
}

// energySignal extracts the audio envelope, degrading to nothing on failure.
func (h *HighlightDetection) energySignal(ctx context.Context, taskID, videoPath string) []types.EnergySample {
	audioPath := filepath.Join(h.tempDir, taskID+"_energy.wav")
	if err := h.audio.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		log.Printf("⚠️ Audio extraction for %s failed, scoring without energy: %v", videoPath, err)
		return nil
	}
	defer os.Remove(audioPath)

	samples, err := h.envelope.EnergyEnvelope(ctx, audioPath)
	if err != nil {
		log.Printf("⚠️ Energy analysis for %s failed, scoring without it: %v", videoPath, err)
		return nil
	}
	return samples
}

var _ orchestrator.Handler = (*HighlightDetection)(nil)
