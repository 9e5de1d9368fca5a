package highlight

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/KenB-Good/ClipMaster/types"
)

func flatEnergy(n int, base float64) []types.EnergySample {
	out := make([]types.EnergySample, n)
	for i := range out {
		out[i] = types.EnergySample{Timestamp: float64(i), Energy: base}
	}
	return out
}

func TestScoreMergesOverlappingSignals(t *testing.T) {
	// A streamer says "clip that" at t=120 while the audio spikes right
	// after. The two proposals overlap and must come out as one highlight.
	energy := flatEnergy(200, 1.0)
	for i := 121; i <= 124; i++ {
		energy[i].Energy = 5.0
	}
	signals := types.SignalSet{
		Duration: 200,
		Transcript: []types.TranscriptSegment{
			{Text: "clip that was perfect", Start: 120, End: 123},
		},
		Energy: energy,
	}

	scorer := NewScorer(DefaultConfig(), nil)
	got, err := scorer.Score(context.Background(), signals, "")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d highlights, want 1 merged: %+v", len(got), got)
	}
	h := got[0]
	if h.Confidence < 0.7 {
		t.Fatalf("confidence = %v, want >= 0.7", h.Confidence)
	}
	if h.StartTime > 120 || h.EndTime < 124 {
		t.Fatalf("merged span [%v, %v] does not cover both signals", h.StartTime, h.EndTime)
	}
}

func TestScoreSceneChangesAloneFallBelowThreshold(t *testing.T) {
	signals := types.SignalSet{
		Duration:     300,
		SceneChanges: []float64{30, 120, 250},
	}
	scorer := NewScorer(DefaultConfig(), nil)
	got, err := scorer.Score(context.Background(), signals, "")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	// Cuts alone are weak evidence; an empty result is valid, never an error.
	if len(got) != 0 {
		t.Fatalf("scene-only signals produced %d highlights, want 0", len(got))
	}
}

func TestScoreEmptySignalsIsUnrecoverable(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)
	_, err := scorer.Score(context.Background(), types.SignalSet{Duration: 100}, "")
	if err == nil {
		t.Fatal("empty signals scored without error")
	}
	if types.KindOf(err) != types.KindUnrecoverable {
		t.Fatalf("kind = %s, want UNRECOVERABLE", types.KindOf(err))
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	energy := flatEnergy(600, 1.0)
	for i := 100; i <= 104; i++ {
		energy[i].Energy = 4.0
	}
	for i := 400; i <= 410; i++ {
		energy[i].Energy = 3.5
	}
	signals := types.SignalSet{
		Duration: 600,
		Energy:   energy,
		Transcript: []types.TranscriptSegment{
			{Text: "that headshot was insane", Start: 99, End: 103},
			{Text: "HAHAHA no way!!", Start: 402, End: 406},
		},
		SceneChanges: []float64{101, 405},
	}
	scorer := NewScorer(DefaultConfig(), nil)

	first, err := scorer.Score(context.Background(), signals, "")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := scorer.Score(context.Background(), signals, "")
		if err != nil {
			t.Fatalf("rescore: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differed:\nfirst: %+v\nagain: %+v", i, first, again)
		}
	}
}

func TestScoreRespectsDurationBounds(t *testing.T) {
	// One instant keyword hit and one very long loud stretch.
	energy := flatEnergy(1000, 1.0)
	for i := 100; i <= 500; i++ {
		energy[i].Energy = 4.0
	}
	signals := types.SignalSet{
		Duration: 1000,
		Energy:   energy,
		Transcript: []types.TranscriptSegment{
			{Text: "wow", Start: 900, End: 900.5},
		},
	}
	scorer := NewScorer(DefaultConfig(), nil)
	got, err := scorer.Score(context.Background(), signals, "")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no highlights")
	}
	for _, h := range got {
		if h.Duration() < 5 || h.Duration() > 120 {
			t.Fatalf("highlight duration %v outside [5, 120]: %+v", h.Duration(), h)
		}
	}
}

func TestScoreRankingIsConfidenceThenStart(t *testing.T) {
	signals := types.SignalSet{
		Duration: 1000,
		Transcript: []types.TranscriptSegment{
			{Text: "HAHAHA", Start: 500, End: 503},            // 0.8
			{Text: "clip that right now", Start: 50, End: 53}, // 0.9
			{Text: "what a headshot", Start: 300, End: 303},   // 0.9
		},
	}
	scorer := NewScorer(DefaultConfig(), nil)
	got, err := scorer.Score(context.Background(), signals, "")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d highlights, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if cur.Confidence > prev.Confidence {
			t.Fatalf("not sorted by confidence: %v before %v", prev.Confidence, cur.Confidence)
		}
		if cur.Confidence == prev.Confidence && cur.StartTime < prev.StartTime {
			t.Fatalf("confidence tie not broken by start time")
		}
	}
	if got[0].StartTime > got[1].StartTime {
		t.Fatal("equal-confidence highlights not in start order")
	}
}

func TestChatWindowsScoring(t *testing.T) {
	base := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	var chat []types.ChatMessage
	// A burst of excited messages from distinct users inside one window.
	for i := 0; i < 12; i++ {
		chat = append(chat, types.ChatMessage{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Username:  "user" + string(rune('a'+i)),
			Text:      "POGGERS clip it!!!",
			Offset:    60 + float64(i),
		})
	}
	// Calm chatter elsewhere.
	chat = append(chat, types.ChatMessage{
		Timestamp: base.Add(5 * time.Minute),
		Username:  "lurker",
		Text:      "hello everyone",
		Offset:    300,
	})

	scorer := NewScorer(DefaultConfig(), nil)
	got := scorer.ChatWindows(chat)
	if len(got) != 1 {
		t.Fatalf("got %d chat windows, want 1: %+v", len(got), got)
	}
	w := got[0]
	if w.Type != types.HighlightChatSpike {
		t.Fatalf("type = %s, want CHAT_SPIKE", w.Type)
	}
	if w.StartTime != 60 || w.EndTime != 90 {
		t.Fatalf("window = [%v, %v], want [60, 90]", w.StartTime, w.EndTime)
	}
	if w.Confidence < 0.7 {
		t.Fatalf("confidence = %v, want >= 0.7", w.Confidence)
	}
}

func TestChatExcitementWeighting(t *testing.T) {
	for _, tc := range []struct {
		name string
		msg  types.ChatMessage
		want float64
	}{
		{
			name: "plain message",
			msg:  types.ChatMessage{Text: "how is everyone doing"},
			want: 0,
		},
		{
			name: "keyword",
			msg:  types.ChatMessage{Text: "that was insane"},
			want: 1,
		},
		{
			name: "caps and exclamations",
			msg:  types.ChatMessage{Text: "NO WAY!!!"},
			want: 3, // keyword + caps + 3 exclamation marks
		},
		{
			name: "subscriber boost",
			msg: types.ChatMessage{
				Text:   "amazing",
				Badges: map[string]string{"subscriber": "12"},
			},
			want: 1.5,
		},
		{
			name: "emotes",
			msg:  types.ChatMessage{Text: "nice one", HasEmotes: true},
			want: 1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := chatExcitement(tc.msg); got != tc.want {
				t.Fatalf("chatExcitement(%q) = %v, want %v", tc.msg.Text, got, tc.want)
			}
		})
	}
}

func TestClampDuration(t *testing.T) {
	for _, tc := range []struct {
		name      string
		in        Proposal
		total     float64
		wantStart float64
		wantEnd   float64
	}{
		{
			name:      "short span grows symmetrically",
			in:        Proposal{StartTime: 10, EndTime: 11},
			total:     100,
			wantStart: 8, wantEnd: 13,
		},
		{
			name:      "long span shrinks around midpoint",
			in:        Proposal{StartTime: 0, EndTime: 300},
			total:     400,
			wantStart: 90, wantEnd: 210,
		},
		{
			name:      "clamped to media start",
			in:        Proposal{StartTime: 0.5, EndTime: 1},
			total:     100,
			wantStart: 0, wantEnd: 5,
		},
		{
			name:      "clamped to media end",
			in:        Proposal{StartTime: 99, EndTime: 99.5},
			total:     100,
			wantStart: 95, wantEnd: 100,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := clampDuration(tc.in, 5, 120, tc.total)
			if math.Abs(got.StartTime-tc.wantStart) > 1e-9 || math.Abs(got.EndTime-tc.wantEnd) > 1e-9 {
				t.Fatalf("clamp = [%v, %v], want [%v, %v]", got.StartTime, got.EndTime, tc.wantStart, tc.wantEnd)
			}
		})
	}
}

func TestIoU(t *testing.T) {
	a := Proposal{StartTime: 0, EndTime: 10}
	for _, tc := range []struct {
		b    Proposal
		want float64
	}{
		{Proposal{StartTime: 0, EndTime: 10}, 1.0},
		{Proposal{StartTime: 5, EndTime: 15}, 1.0 / 3.0},
		{Proposal{StartTime: 10, EndTime: 20}, 0},
		{Proposal{StartTime: 20, EndTime: 30}, 0},
	} {
		if got := iou(a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("iou([0,10], [%v,%v]) = %v, want %v", tc.b.StartTime, tc.b.EndTime, got, tc.want)
		}
	}
}

func TestMergeTakesStrongestCategory(t *testing.T) {
	merged := mergeProposals([]Proposal{
		{StartTime: 10, EndTime: 20, Confidence: 0.75, Type: types.HighlightContentPeak, Description: "Keyword detected: wow"},
		{StartTime: 12, EndTime: 22, Confidence: 0.95, Type: types.HighlightClipThatMoment, Description: "Keyword detected: clip that"},
	}, 0.3)
	if len(merged) != 1 {
		t.Fatalf("got %d proposals, want 1", len(merged))
	}
	m := merged[0]
	if m.Type != types.HighlightClipThatMoment {
		t.Fatalf("type = %s, want strongest contributor CLIP_THAT_MOMENT", m.Type)
	}
	if m.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want max 0.95", m.Confidence)
	}
	if m.StartTime != 10 || m.EndTime != 22 {
		t.Fatalf("span = [%v, %v], want union [10, 22]", m.StartTime, m.EndTime)
	}
	if m.Description != "Keyword detected: wow; Keyword detected: clip that" {
		t.Fatalf("description = %q", m.Description)
	}
}
