package media

import (
	"fmt"
	"os"

	"github.com/KenB-Good/ClipMaster/types"
)

// subtitleStyle is the burn-in look: bold outlined text centered near the
// bottom, readable on both gameplay and camera footage.
const subtitleStyle = "FontName=Impact," +
	"FontSize=32," +
	"PrimaryColour=&H00FFFF," +
	"OutlineColour=&H000000," +
	"BorderStyle=3," +
	"Outline=3," +
	"Shadow=0," +
	"Alignment=2," +
	"Bold=1"

// WriteSRT renders transcript segments as a SubRip file.
func WriteSRT(segments []types.TranscriptSegment, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return types.Transient(fmt.Errorf("create srt file: %w", err))
	}
	defer file.Close()

	for i, seg := range segments {
		fmt.Fprintf(file, "%d\n", i+1)
		fmt.Fprintf(file, "%s --> %s\n", FormatSRTTime(seg.Start), FormatSRTTime(seg.End))
		fmt.Fprintf(file, "%s\n\n", seg.Text)
	}
	return nil
}

// FormatSRTTime renders seconds as the SubRip HH:MM:SS,mmm timestamp.
func FormatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := int(seconds / 3600)
	minutes := int(seconds/60) % 60
	secs := int(seconds) % 60
	millis := int((seconds - float64(int(seconds))) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// RebaseSegments shifts segments from source time onto clip time, keeping
// only the spans that intersect [0, clipDuration).
func RebaseSegments(segments []types.TranscriptSegment, clipStart, clipDuration float64) []types.TranscriptSegment {
	var out []types.TranscriptSegment
	for _, seg := range segments {
		start := seg.Start - clipStart
		end := seg.End - clipStart
		if end <= 0 || start >= clipDuration {
			continue
		}
		if start < 0 {
			start = 0
		}
		if end > clipDuration {
			end = clipDuration
		}
		out = append(out, types.TranscriptSegment{Text: seg.Text, Start: start, End: end})
	}
	return out
}
