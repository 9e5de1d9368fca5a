package inference

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/KenB-Good/ClipMaster/types"
)

// FFmpegSceneDetector finds hard cuts with ffmpeg's scene-score select
// filter. Scores range 0..1; the default threshold 0.4 catches camera cuts
// without firing on in-game motion.
type FFmpegSceneDetector struct {
	Threshold float64
	TempDir   string
}

// NewFFmpegSceneDetector returns a detector with the default cut threshold.
func NewFFmpegSceneDetector(tempDir string) *FFmpegSceneDetector {
	return &FFmpegSceneDetector{Threshold: 0.4, TempDir: tempDir}
}

// SceneChanges renders the video through select+metadata filters and parses
// the per-cut timestamps the metadata filter writes out.
func (d *FFmpegSceneDetector) SceneChanges(ctx context.Context, videoPath string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.WrapTask("", types.KindCancelled, err)
	}
	scratch, err := os.CreateTemp(d.TempDir, "scenes-*.txt")
	if err != nil {
		return nil, types.Transient(fmt.Errorf("create scene scratch file: %w", err))
	}
	scratchPath := scratch.Name()
	scratch.Close()
	defer os.Remove(scratchPath)

	err = ffmpeg.Input(videoPath).
		Filter("select", ffmpeg.Args{fmt.Sprintf("gt(scene,%g)", d.Threshold)}).
		Filter("metadata", ffmpeg.Args{"print"}, ffmpeg.KwArgs{
			"file": filepath.ToSlash(scratchPath),
		}).
		Output("-", ffmpeg.KwArgs{"f": "null"}).
		Run()
	if err != nil {
		return nil, types.Unrecoverable(fmt.Errorf("ffmpeg scene detect: %w", err))
	}
	return parseSceneTimestamps(scratchPath)
}

// parseSceneTimestamps extracts pts_time values from metadata=print output,
// which looks like "frame:12 pts:3600 pts_time:3.6".
func parseSceneTimestamps(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.Transient(fmt.Errorf("open scene output: %w", err))
	}
	defer f.Close()

	var cuts []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		for _, field := range strings.Fields(scanner.Text()) {
			if !strings.HasPrefix(field, "pts_time:") {
				continue
			}
			t, err := strconv.ParseFloat(strings.TrimPrefix(field, "pts_time:"), 64)
			if err == nil {
				cuts = append(cuts, t)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, types.Transient(fmt.Errorf("scan scene output: %w", err))
	}
	return cuts, nil
}

var _ SceneDetector = (*FFmpegSceneDetector)(nil)
