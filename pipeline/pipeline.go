// Package pipeline implements the task handlers the worker pools execute:
// transcription, highlight detection, clip rendering, subtitle generation,
// and live stream capture. Each handler is a pure consumer of its task's
// config; results land in the metadata store and on disk.
package pipeline

import (
	"context"
	"fmt"

	"github.com/KenB-Good/ClipMaster/media"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

// LifecycleEmitter publishes artifact lifecycle events. events.Producer
// implements it; publishing is best-effort and never fails a task.
type LifecycleEmitter interface {
	ArtifactCreated(ctx context.Context, kind, id, videoID, location string, size int64) error
}

// AudioExtractor pulls a video's audio track into a WAV file.
// *media.Materializer implements it.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, sourcePath, outputPath string) error
}

// ClipRenderer cuts and converts one clip. *media.Materializer implements it.
type ClipRenderer interface {
	CreateClip(ctx context.Context, req media.ClipRequest) error
}

// loadVideo resolves a task's video. A task pointing at a deleted video can
// never succeed, so the miss is invalid input rather than transient.
func loadVideo(ctx context.Context, meta store.MetadataStore, videoID string) (*types.Video, error) {
	if videoID == "" {
		return nil, types.Invalid(fmt.Errorf("task has no video"))
	}
	video, err := meta.GetVideo(ctx, videoID)
	if err == store.ErrNotFound {
		return nil, types.Invalid(fmt.Errorf("video %s does not exist", videoID))
	}
	if err != nil {
		return nil, types.Transient(fmt.Errorf("load video %s: %w", videoID, err))
	}
	return video, nil
}
