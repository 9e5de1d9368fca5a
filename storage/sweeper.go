package storage

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/KenB-Good/ClipMaster/media"
	"github.com/KenB-Good/ClipMaster/store"
)

// LifecycleEmitter publishes artifact lifecycle events. events.Producer
// implements it; tests use a recording fake.
type LifecycleEmitter interface {
	ArtifactDeleted(ctx context.Context, kind, id, videoID, location string) error
}

// Sweeper reclaims disk by deleting ARCHIVED videos past the retention age,
// but only while the disk is actually under pressure.
type Sweeper struct {
	meta      store.MetadataStore
	emit      LifecycleEmitter
	usage     func() (float64, error)
	maxAge    time.Duration
	threshold float64
	now       func() time.Time
}

// NewSweeper builds a sweeper. emit may be nil when no event bus is
// configured; usage reports the used disk fraction (LocalStore.DiskUsage).
func NewSweeper(meta store.MetadataStore, emit LifecycleEmitter, usage func() (float64, error),
	retentionDays int, threshold float64) *Sweeper {
	return &Sweeper{
		meta:      meta,
		emit:      emit,
		usage:     usage,
		maxAge:    time.Duration(retentionDays) * 24 * time.Hour,
		threshold: threshold,
		now:       time.Now,
	}
}

// Sweep runs one retention pass and returns the number of videos removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	used, err := s.usage()
	if err != nil {
		return 0, err
	}
	if used < s.threshold {
		return 0, nil
	}
	log.Printf("♻️ Disk usage %.0f%% over threshold, sweeping archived videos", used*100)

	cutoff := s.now().Add(-s.maxAge)
	videos, err := s.meta.ArchivedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, video := range videos {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if err := s.removeVideo(ctx, video.ID, video.FilePath); err != nil {
			log.Printf("⚠️ Sweep of video %s failed: %v", video.ID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("♻️ Swept %d archived videos older than %s", removed, cutoff.Format(time.RFC3339))
	}
	return removed, nil
}

func (s *Sweeper) removeVideo(ctx context.Context, videoID, filePath string) error {
	clips, err := s.meta.ListClips(ctx, videoID)
	if err != nil {
		return err
	}
	for _, clip := range clips {
		if err := removeFile(clip.FilePath); err != nil {
			return err
		}
		if err := s.meta.DeleteClip(ctx, clip.ID); err != nil {
			return err
		}
		s.notifyDeleted(ctx, "CLIP", clip.ID, videoID, clip.FilePath)
	}

	highlights, err := s.meta.ListHighlights(ctx, videoID)
	if err != nil {
		return err
	}
	for _, h := range highlights {
		if err := s.meta.DeleteHighlight(ctx, h.ID); err != nil {
			return err
		}
	}

	// Sidecar artifacts are derived from the video and go with it.
	if err := removeFile(media.TranscriptSidecarPath(filePath)); err != nil {
		return err
	}
	if err := removeFile(media.ChatSidecarPath(filePath)); err != nil {
		return err
	}
	if err := removeFile(filePath); err != nil {
		return err
	}
	if err := s.meta.DeleteVideo(ctx, videoID); err != nil {
		return err
	}
	s.notifyDeleted(ctx, "VIDEO", videoID, videoID, filePath)
	return nil
}

func (s *Sweeper) notifyDeleted(ctx context.Context, kind, id, videoID, location string) {
	if s.emit == nil {
		return
	}
	if err := s.emit.ArtifactDeleted(ctx, kind, id, videoID, location); err != nil {
		log.Printf("⚠️ Lifecycle event for %s %s not published: %v", kind, id, err)
	}
}

func removeFile(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
