package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/KenB-Good/ClipMaster/types"
)

// WhisperCLI transcribes by shelling out to the whisper command-line tool
// with JSON output. Model names follow whisper's own ("tiny" through
// "large").
type WhisperCLI struct {
	Binary  string
	Model   string
	TempDir string
}

// NewWhisperCLI builds a transcriber around the whisper binary on PATH.
func NewWhisperCLI(model, tempDir string) *WhisperCLI {
	return &WhisperCLI{Binary: "whisper", Model: model, TempDir: tempDir}
}

type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe runs whisper over the audio file and parses its JSON sidecar.
func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string, language string) (*types.Transcript, error) {
	outDir, err := os.MkdirTemp(w.TempDir, "whisper-")
	if err != nil {
		return nil, types.Transient(fmt.Errorf("create whisper scratch dir: %w", err))
	}
	defer os.RemoveAll(outDir)

	args := []string{
		audioPath,
		"--model", w.Model,
		"--output_format", "json",
		"--output_dir", outDir,
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	cmd := exec.CommandContext(ctx, w.Binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapTask("", types.KindCancelled, ctx.Err())
		}
		return nil, types.Transient(fmt.Errorf("whisper run: %w: %s", err, firstLine(out)))
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	raw, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return nil, types.Unrecoverable(fmt.Errorf("read whisper output: %w", err))
	}

	var parsed whisperOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, types.Unrecoverable(fmt.Errorf("parse whisper output: %w", err))
	}

	transcript := &types.Transcript{
		Text:     strings.TrimSpace(parsed.Text),
		Language: parsed.Language,
	}
	for _, seg := range parsed.Segments {
		transcript.Segments = append(transcript.Segments, types.TranscriptSegment{
			Text:  strings.TrimSpace(seg.Text),
			Start: seg.Start,
			End:   seg.End,
		})
		if seg.End > transcript.Duration {
			transcript.Duration = seg.End
		}
	}
	return transcript, nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

var _ Transcriber = (*WhisperCLI)(nil)
