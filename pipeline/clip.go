package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/KenB-Good/ClipMaster/media"
	"github.com/KenB-Good/ClipMaster/orchestrator"
	"github.com/KenB-Good/ClipMaster/storage"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

// ClipGeneration renders one clip from a source video. The range comes from
// a highlight reference, an explicit range, or the video's top-ranked
// highlight when neither is given.
type ClipGeneration struct {
	meta     store.MetadataStore
	renderer ClipRenderer
	clipsDir string
	// archive and emit are optional: a nil archive keeps clips local only,
	// a nil emit skips lifecycle events.
	archive storage.ObjectStore
	emit    LifecycleEmitter
	probe   func(path string) (media.MediaInfo, error)
	now     func() time.Time
}

// NewClipGeneration wires the handler.
func NewClipGeneration(meta store.MetadataStore, renderer ClipRenderer, clipsDir string,
	archive storage.ObjectStore, emit LifecycleEmitter) *ClipGeneration {
	return &ClipGeneration{
		meta:     meta,
		renderer: renderer,
		clipsDir: clipsDir,
		archive:  archive,
		emit:     emit,
		probe:    media.Probe,
		now:      time.Now,
	}
}

func (h *ClipGeneration) Type() types.TaskType { return types.TaskClipGeneration }

func (h *ClipGeneration) Run(ctx context.Context, task *types.ProcessingTask, report orchestrator.ProgressFunc) (any, error) {
	video, err := loadVideo(ctx, h.meta, task.VideoID)
	if err != nil {
		return nil, err
	}
	cfg, err := types.DecodeConfig[types.ClipGenerationConfig](task)
	if err != nil {
		return nil, err
	}

	start, end, highlightID, err := h.resolveRange(ctx, video.ID, cfg)
	if err != nil {
		return nil, err
	}
	report(10)

	info, err := h.probe(video.FilePath)
	if err != nil {
		return nil, err
	}
	if err := media.ValidateRange(start, end, info.Duration); err != nil {
		return nil, err
	}
	// Keyframe tolerance lets end overshoot the probed duration slightly;
	// the cut itself must stay inside the file.
	end = math.Min(end, info.Duration)

	var subtitles []types.TranscriptSegment
	if cfg.BurnSubtitles {
		transcript, err := media.ReadTranscript(media.TranscriptSidecarPath(video.FilePath))
		if err != nil {
			return nil, err
		}
		if transcript == nil {
			return nil, types.Invalid(fmt.Errorf("subtitle burn-in requires a transcription for video %s", video.ID))
		}
		subtitles = transcript.Segments
	}
	report(20)

	format := cfg.Format
	if format == "" {
		format = types.FormatHorizontal
	}
	clipID := uuid.NewString()
	filename := clipID + ".mp4"
	outputPath := filepath.Join(h.clipsDir, filename)

	if err := h.renderer.CreateClip(ctx, media.ClipRequest{
		SourcePath: video.FilePath,
		OutputPath: outputPath,
		StartTime:  start,
		EndTime:    end,
		Format:     format,
		Subtitles:  subtitles,
	}); err != nil {
		return nil, err
	}
	report(75)

	stat, err := os.Stat(outputPath)
	if err != nil {
		return nil, types.Transient(fmt.Errorf("stat rendered clip: %w", err))
	}

	clip := &types.Clip{
		ID:           clipID,
		VideoID:      video.ID,
		HighlightID:  highlightID,
		Filename:     filename,
		FilePath:     outputPath,
		FileSize:     stat.Size(),
		Duration:     end - start,
		StartTime:    start,
		EndTime:      end,
		Format:       format,
		HasSubtitles: len(subtitles) > 0,
		CreatedAt:    h.now(),
	}
	if err := h.meta.CreateClip(ctx, clip); err != nil {
		return nil, types.Transient(fmt.Errorf("persist clip record: %w", err))
	}
	report(90)

	location := h.archiveClip(ctx, outputPath, filename)
	if h.emit != nil {
		if err := h.emit.ArtifactCreated(ctx, "CLIP", clipID, video.ID, location, stat.Size()); err != nil {
			log.Printf("⚠️ Lifecycle event for clip %s not published: %v", clipID, err)
		}
	}

	return types.ClipGenerationResult{
		ClipID:   clipID,
		Location: location,
		Size:     stat.Size(),
		Duration: end - start,
	}, nil
}

// resolveRange picks the clip's source range per the config union.
func (h *ClipGeneration) resolveRange(ctx context.Context, videoID string, cfg types.ClipGenerationConfig) (start, end float64, highlightID string, err error) {
	switch {
	case cfg.HighlightID != "":
		hl, err := h.meta.GetHighlight(ctx, cfg.HighlightID)
		if err == store.ErrNotFound {
			return 0, 0, "", types.Invalid(fmt.Errorf("highlight %s does not exist", cfg.HighlightID))
		}
		if err != nil {
			return 0, 0, "", types.Transient(err)
		}
		if hl.VideoID != videoID {
			return 0, 0, "", types.Invalid(fmt.Errorf("highlight %s belongs to video %s, not %s", hl.ID, hl.VideoID, videoID))
		}
		return hl.StartTime, hl.EndTime, hl.ID, nil

	case cfg.ExplicitRange():
		return cfg.StartTime, cfg.EndTime, "", nil

	default:
		// Claim-time readiness already waited for detection; take the
		// top-ranked highlight.
		highlights, err := h.meta.ListHighlights(ctx, videoID)
		if err != nil {
			return 0, 0, "", types.Transient(err)
		}
		if len(highlights) == 0 {
			return 0, 0, "", types.Invalid(fmt.Errorf("video %s has no highlights to clip", videoID))
		}
		top := highlights[0]
		return top.StartTime, top.EndTime, top.ID, nil
	}
}

// archiveClip uploads the rendered clip when an archive is configured.
// Upload failure keeps the local copy and is not fatal to the task.
func (h *ClipGeneration) archiveClip(ctx context.Context, outputPath, filename string) string {
	if h.archive == nil {
		return outputPath
	}
	key := "clips/" + filename
	file, err := os.Open(outputPath)
	if err != nil {
		log.Printf("⚠️ Archive of %s skipped: %v", filename, err)
		return outputPath
	}
	defer file.Close()
	if err := h.archive.Put(ctx, key, file, "video/mp4"); err != nil {
		log.Printf("⚠️ Archive of %s failed, keeping local copy: %v", filename, err)
		return outputPath
	}
	return h.archive.Location(key)
}

var _ orchestrator.Handler = (*ClipGeneration)(nil)
