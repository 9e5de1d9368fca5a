package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KenB-Good/ClipMaster/types"
)

func TestValidateRange(t *testing.T) {
	for _, tc := range []struct {
		name     string
		start    float64
		end      float64
		duration float64
		wantErr  bool
	}{
		{name: "valid", start: 10, end: 30, duration: 100},
		{name: "full video", start: 0, end: 100, duration: 100},
		{name: "within keyframe tolerance", start: 90, end: 101.5, duration: 100},
		{name: "negative start", start: -1, end: 10, duration: 100, wantErr: true},
		{name: "end equals start", start: 10, end: 10, duration: 100, wantErr: true},
		{name: "end before start", start: 30, end: 10, duration: 100, wantErr: true},
		{name: "end past duration", start: 10, end: 110, duration: 100, wantErr: true},
		{name: "unprobed source skips duration check", start: 10, end: 9999, duration: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRange(tc.start, tc.end, tc.duration)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if types.KindOf(err) != types.KindInvalidInput {
					t.Fatalf("kind = %s, want INVALID_INPUT", types.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFormatSRTTime(t *testing.T) {
	for _, tc := range []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{61.042, "00:01:01,042"},
		{3599.999, "00:59:59,999"},
		{3661.25, "01:01:01,250"},
		{-5, "00:00:00,000"},
	} {
		if got := FormatSRTTime(tc.seconds); got != tc.want {
			t.Errorf("FormatSRTTime(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestWriteSRT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.srt")
	err := WriteSRT([]types.TranscriptSegment{
		{Text: "first line", Start: 0, End: 2.5},
		{Text: "second line", Start: 3, End: 6},
	}, path)
	if err != nil {
		t.Fatalf("write srt: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := "1\n00:00:00,000 --> 00:00:02,500\nfirst line\n\n" +
		"2\n00:00:03,000 --> 00:00:06,000\nsecond line\n\n"
	if string(raw) != want {
		t.Fatalf("srt content:\n%s\nwant:\n%s", raw, want)
	}
}

func TestRebaseSegments(t *testing.T) {
	segments := []types.TranscriptSegment{
		{Text: "before the clip", Start: 0, End: 8},
		{Text: "straddles the cut", Start: 8, End: 12},
		{Text: "inside", Start: 15, End: 18},
		{Text: "straddles the end", Start: 28, End: 35},
		{Text: "after the clip", Start: 40, End: 45},
	}
	got := RebaseSegments(segments, 10, 20)
	want := []types.TranscriptSegment{
		{Text: "straddles the cut", Start: 0, End: 2},
		{Text: "inside", Start: 5, End: 8},
		{Text: "straddles the end", Start: 18, End: 20},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSubtitleStyleIsForceStyleCompatible(t *testing.T) {
	// ffmpeg's force_style takes comma-separated ASS overrides; a stray
	// colon or quote would cut the filter chain short.
	if strings.ContainsAny(subtitleStyle, `:'"`) {
		t.Fatalf("subtitle style contains filter-breaking characters: %s", subtitleStyle)
	}
}
