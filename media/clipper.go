// Package media renders clip artifacts with ffmpeg: range extraction, aspect
// conversion for vertical and square outputs, and subtitle burn-in.
package media

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/KenB-Good/ClipMaster/config"
	"github.com/KenB-Good/ClipMaster/types"
)

// ClipRequest describes one clip render.
type ClipRequest struct {
	SourcePath string
	OutputPath string
	StartTime  float64
	EndTime    float64
	Format     types.ClipFormat
	// Subtitles are burned into the frame when non-empty. Times are relative
	// to the source video; they are rebased onto the clip range here.
	Subtitles []types.TranscriptSegment
}

// Materializer renders clips. TempDir holds intermediate SRT files.
type Materializer struct {
	TempDir string
}

// ValidateRange rejects clip ranges that cannot be cut from a source of the
// given duration. A zero duration (unprobed source) only checks ordering.
func ValidateRange(start, end, duration float64) error {
	if start < 0 {
		return types.Invalid(fmt.Errorf("start time %.2f is negative", start))
	}
	if end <= start {
		return types.Invalid(fmt.Errorf("end time %.2f is not after start time %.2f", end, start))
	}
	if duration > 0 && end > duration+config.KeyframeTolerance {
		return types.Invalid(fmt.Errorf("end time %.2f exceeds source duration %.2f", end, duration))
	}
	return nil
}

// CreateClip cuts [StartTime, EndTime) out of the source, converts the frame
// for the requested format, and writes OutputPath. The range must already be
// validated against the source duration.
func (m *Materializer) CreateClip(ctx context.Context, req ClipRequest) error {
	if err := ValidateRange(req.StartTime, req.EndTime, 0); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return types.WrapTask("", types.KindCancelled, err)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return types.Transient(fmt.Errorf("create output dir: %w", err))
	}

	duration := req.EndTime - req.StartTime
	stream := ffmpeg.Input(req.SourcePath, ffmpeg.KwArgs{
		"ss": fmt.Sprintf("%.3f", req.StartTime),
		"t":  fmt.Sprintf("%.3f", duration),
	})

	switch req.Format {
	case types.FormatVertical:
		stream = stream.
			Filter("scale", ffmpeg.Args{}, ffmpeg.KwArgs{
				"w": config.VerticalWidth, "h": config.VerticalHeight,
				"force_original_aspect_ratio": "decrease",
			}).
			Filter("pad", ffmpeg.Args{}, ffmpeg.KwArgs{
				"w": config.VerticalWidth, "h": config.VerticalHeight,
				"x": -1, "y": -1, "color": "black",
			})
	case types.FormatSquare:
		stream = stream.
			Filter("scale", ffmpeg.Args{}, ffmpeg.KwArgs{
				"w": config.SquareSize, "h": config.SquareSize,
				"force_original_aspect_ratio": "decrease",
			}).
			Filter("pad", ffmpeg.Args{}, ffmpeg.KwArgs{
				"w": config.SquareSize, "h": config.SquareSize,
				"x": -1, "y": -1, "color": "black",
			})
	case types.FormatHorizontal, "":
		// Source aspect is kept as-is.
	default:
		return types.Invalid(fmt.Errorf("unknown clip format %q", req.Format))
	}

	var srtPath string
	if len(req.Subtitles) > 0 {
		srtPath = filepath.Join(m.TempDir, fmt.Sprintf("%s.srt", stripExt(req.OutputPath)))
		rebased := RebaseSegments(req.Subtitles, req.StartTime, duration)
		if err := WriteSRT(rebased, srtPath); err != nil {
			return err
		}
		defer os.Remove(srtPath)
		stream = stream.Filter("subtitles", ffmpeg.Args{filepath.ToSlash(srtPath)}, ffmpeg.KwArgs{
			"force_style": subtitleStyle,
		})
	}

	err := stream.
		Output(req.OutputPath, ffmpeg.KwArgs{
			"c:v":    config.VideoCodec,
			"c:a":    config.AudioCodec,
			"preset": config.VideoPreset,
			"crf":    config.VideoCRF,
		}).
		OverWriteOutput().
		Run()
	if err != nil {
		return types.Unrecoverable(fmt.Errorf("ffmpeg clip render: %w", err))
	}
	log.Printf("🎬 Rendered clip %s [%.1fs - %.1fs]", filepath.Base(req.OutputPath), req.StartTime, req.EndTime)
	return nil
}

// ExtractAudio writes the source's audio track as 16 kHz mono PCM WAV, the
// input format the transcriber expects.
func (m *Materializer) ExtractAudio(ctx context.Context, sourcePath, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return types.WrapTask("", types.KindCancelled, err)
	}
	err := ffmpeg.Input(sourcePath).
		Output(outputPath, ffmpeg.KwArgs{
			"acodec": "pcm_s16le",
			"ac":     1,
			"ar":     16000,
			"vn":     "",
		}).
		OverWriteOutput().
		Run()
	if err != nil {
		return types.Unrecoverable(fmt.Errorf("ffmpeg audio extract: %w", err))
	}
	return nil
}

// Thumbnail grabs one frame at the given offset.
func (m *Materializer) Thumbnail(ctx context.Context, sourcePath, outputPath string, at float64, width, height int) error {
	if err := ctx.Err(); err != nil {
		return types.WrapTask("", types.KindCancelled, err)
	}
	err := ffmpeg.Input(sourcePath, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", at)}).
		Filter("scale", ffmpeg.Args{}, ffmpeg.KwArgs{"w": width, "h": height}).
		Output(outputPath, ffmpeg.KwArgs{"vframes": 1}).
		OverWriteOutput().
		Run()
	if err != nil {
		return types.Unrecoverable(fmt.Errorf("ffmpeg thumbnail: %w", err))
	}
	return nil
}

// stripExt derives a scratch-file basename from the output artifact's name.
func stripExt(outputPath string) string {
	base := filepath.Base(outputPath)
	return base[:len(base)-len(filepath.Ext(base))]
}
