// Package inference wraps the model-backed capabilities the pipeline
// consumes: speech-to-text, signal extraction from media, and prompt
// matching. Everything is behind an interface so workers can run against
// fakes in tests and against whatever backend a deployment has.
package inference

import (
	"context"

	"github.com/KenB-Good/ClipMaster/types"
)

// Transcriber converts an audio file into a timed transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, language string) (*types.Transcript, error)
}

// AudioAnalyzer extracts the energy envelope the audio-spike proposer scores.
type AudioAnalyzer interface {
	EnergyEnvelope(ctx context.Context, audioPath string) ([]types.EnergySample, error)
}

// SceneDetector finds hard-cut timestamps in a video file.
type SceneDetector interface {
	SceneChanges(ctx context.Context, videoPath string) ([]float64, error)
}
