// Package highlight turns extracted video signals into scored highlight
// candidates. Each signal source proposes spans independently; proposals are
// clamped, merged on time-axis overlap, filtered by confidence, and ranked
// deterministically.
package highlight

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/KenB-Good/ClipMaster/config"
	"github.com/KenB-Good/ClipMaster/types"
)

// Config tunes the scorer. Zero values fall back to the defaults in config.
type Config struct {
	ConfidenceThreshold float64
	MinDuration         float64
	MaxDuration         float64
	MergeIoU            float64
	AudioSpikeFactor    float64
	ChatWindowSeconds   int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: config.DefaultConfidenceThreshold,
		MinDuration:         config.MinHighlightDuration,
		MaxDuration:         config.MaxHighlightDuration,
		MergeIoU:            config.DefaultMergeIoU,
		AudioSpikeFactor:    config.AudioSpikeMultiplier,
		ChatWindowSeconds:   config.ChatWindowSeconds,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.MinDuration == 0 {
		c.MinDuration = d.MinDuration
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.MergeIoU == 0 {
		c.MergeIoU = d.MergeIoU
	}
	if c.AudioSpikeFactor == 0 {
		c.AudioSpikeFactor = d.AudioSpikeFactor
	}
	if c.ChatWindowSeconds == 0 {
		c.ChatWindowSeconds = d.ChatWindowSeconds
	}
	return c
}

// PromptMatch is one transcript span a matcher judged relevant to a custom
// prompt.
type PromptMatch struct {
	Start   float64
	End     float64
	Score   float64
	Excerpt string
}

// PromptMatcher finds transcript spans matching a free-form prompt. The
// inference package provides implementations.
type PromptMatcher interface {
	Match(ctx context.Context, prompt string, segments []types.TranscriptSegment) ([]PromptMatch, error)
}

// Scorer runs every proposal source over a SignalSet. Safe for concurrent
// use; the config is fixed at construction.
type Scorer struct {
	cfg     Config
	matcher PromptMatcher
}

// NewScorer builds a scorer. matcher may be nil when custom prompts are not
// in use.
func NewScorer(cfg Config, matcher PromptMatcher) *Scorer {
	return &Scorer{cfg: cfg.withDefaults(), matcher: matcher}
}

// ErrNoSignals is returned when every signal stream is empty; scoring has
// nothing to work with and the caller should treat the task as unrecoverable.
var ErrNoSignals = errors.New("highlight: no signals to score")

// Score produces the final ranked proposals for a video's signals. Scoring is
// a pure function of its inputs: equal signals yield equal proposals in equal
// order. Individual signal streams may be empty; only a fully empty SignalSet
// is an error.
func (s *Scorer) Score(ctx context.Context, signals types.SignalSet, customPrompt string) ([]Proposal, error) {
	if signals.Empty() {
		return nil, types.Unrecoverable(ErrNoSignals)
	}

	var candidates []Proposal
	candidates = append(candidates, s.audioSpikes(signals.Energy)...)
	candidates = append(candidates, s.transcriptProposals(signals.Transcript)...)
	candidates = append(candidates, s.sceneProposals(signals.SceneChanges)...)
	candidates = append(candidates, s.ChatWindows(signals.Chat)...)

	if customPrompt != "" && s.matcher != nil {
		prompted, err := s.promptProposals(ctx, customPrompt, signals.Transcript)
		if err != nil {
			// Prompt matching rides an external model; its failure must
			// not sink the other signal sources.
			log.Printf("⚠️ prompt matching failed, scoring without it: %v", err)
		} else {
			candidates = append(candidates, prompted...)
		}
	}

	for i := range candidates {
		candidates[i] = clampDuration(candidates[i], s.cfg.MinDuration, s.cfg.MaxDuration, signals.Duration)
	}

	merged := mergeProposals(candidates, s.cfg.MergeIoU)

	kept := merged[:0]
	for _, p := range merged {
		// Merged unions can outgrow the duration cap; clamp once more.
		p = clampDuration(p, s.cfg.MinDuration, s.cfg.MaxDuration, signals.Duration)
		if p.Confidence >= s.cfg.ConfidenceThreshold && p.Duration() >= s.cfg.MinDuration {
			kept = append(kept, p)
		}
	}
	rank(kept)
	log.Printf("Detected %d highlights from %d candidates", len(kept), len(candidates))
	return kept, nil
}

// audioSpikes proposes spans where the energy envelope rises well above its
// mean: screams, explosions, crowd noise.
func (s *Scorer) audioSpikes(energy []types.EnergySample) []Proposal {
	if len(energy) == 0 {
		return nil
	}
	var sum float64
	for _, e := range energy {
		sum += e.Energy
	}
	mean := sum / float64(len(energy))
	threshold := mean * s.cfg.AudioSpikeFactor
	if threshold <= 0 {
		return nil
	}

	var proposals []Proposal
	i := 0
	for i < len(energy) {
		if energy[i].Energy <= threshold {
			i++
			continue
		}
		// Extend across the contiguous run above threshold.
		j := i
		peak := energy[i].Energy
		for j+1 < len(energy) && energy[j+1].Energy > threshold {
			j++
			if energy[j].Energy > peak {
				peak = energy[j].Energy
			}
		}
		proposals = append(proposals, Proposal{
			StartTime:   math.Max(0, energy[i].Timestamp-2),
			EndTime:     energy[j].Timestamp + 3,
			Confidence:  math.Min(peak/threshold, 1.0),
			Type:        types.HighlightEmotionalReaction,
			Description: "Audio spike detected",
		})
		i = j + 1
	}
	return proposals
}

// transcriptProposals scans speech for lexicon hits and emotional patterns.
func (s *Scorer) transcriptProposals(segments []types.TranscriptSegment) []Proposal {
	var proposals []Proposal
	for _, seg := range segments {
		lower := strings.ToLower(seg.Text)

		type hit struct {
			words []string
			kind  types.HighlightType
		}
		for _, h := range []hit{
			{matchLexicon(lower, clipThatPhrases), types.HighlightClipThatMoment},
			{matchLexicon(lower, excitementKeywords), types.HighlightContentPeak},
			{matchLexicon(lower, gamingKeywords), types.HighlightGameplayMoment},
			{matchLexicon(lower, reactionKeywords), types.HighlightEmotionalReaction},
		} {
			if len(h.words) == 0 {
				continue
			}
			proposals = append(proposals, Proposal{
				StartTime:   math.Max(0, seg.Start-3),
				EndTime:     seg.End + 5,
				Confidence:  0.9,
				Type:        h.kind,
				Description: describeKeywords(h.words),
				Metadata:    map[string]string{"text": seg.Text},
			})
		}

		if m := matchEmotional(seg.Text); m != "" {
			proposals = append(proposals, Proposal{
				StartTime:   math.Max(0, seg.Start-2),
				EndTime:     seg.End + 3,
				Confidence:  0.8,
				Type:        types.HighlightEmotionalReaction,
				Description: fmt.Sprintf("Emotional moment detected: %s", m),
				Metadata:    map[string]string{"text": seg.Text},
			})
		}
	}
	return proposals
}

// sceneProposals turns hard cuts into weak gameplay-moment candidates. Their
// confidence sits below the default threshold on purpose: a cut alone is not
// a highlight, but it boosts overlapping proposals through the merge.
func (s *Scorer) sceneProposals(cuts []float64) []Proposal {
	var proposals []Proposal
	for _, t := range cuts {
		proposals = append(proposals, Proposal{
			StartTime:   math.Max(0, t-3),
			EndTime:     t + 7,
			Confidence:  0.6,
			Type:        types.HighlightGameplayMoment,
			Description: "Scene change",
		})
	}
	return proposals
}

// ChatWindows buckets excited chat lines into fixed windows and proposes the
// hot ones. Exported because the live capture scorer reuses it over its
// sliding window.
func (s *Scorer) ChatWindows(chat []types.ChatMessage) []Proposal {
	if len(chat) == 0 {
		return nil
	}
	window := float64(s.cfg.ChatWindowSeconds)

	type bucket struct {
		score float64
		users map[string]struct{}
		n     int
	}
	buckets := map[int]*bucket{}
	for _, msg := range chat {
		score := chatExcitement(msg)
		if score < 2 {
			continue
		}
		idx := int(msg.Offset / window)
		b := buckets[idx]
		if b == nil {
			b = &bucket{users: map[string]struct{}{}}
			buckets[idx] = b
		}
		b.score += score
		b.users[msg.Username] = struct{}{}
		b.n++
	}

	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var proposals []Proposal
	for _, k := range keys {
		b := buckets[k]
		confidence := math.Min(b.score/20, 1.0) + math.Min(float64(len(b.users))/10, 0.3)
		confidence = math.Min(confidence, 1.0)
		if confidence < 0.6 {
			continue
		}
		proposals = append(proposals, Proposal{
			StartTime:  float64(k) * window,
			EndTime:    float64(k+1) * window,
			Confidence: confidence,
			Type:       types.HighlightChatSpike,
			Description: fmt.Sprintf("Chat excitement detected (%.0f score, %d users)",
				b.score, len(b.users)),
			Metadata: map[string]string{
				"message_count": fmt.Sprintf("%d", b.n),
			},
		})
	}
	return proposals
}

func (s *Scorer) promptProposals(ctx context.Context, prompt string, segments []types.TranscriptSegment) ([]Proposal, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	matches, err := s.matcher.Match(ctx, prompt, segments)
	if err != nil {
		return nil, err
	}
	var proposals []Proposal
	for _, m := range matches {
		proposals = append(proposals, Proposal{
			StartTime:   math.Max(0, m.Start-3),
			EndTime:     m.End + 5,
			Confidence:  m.Score,
			Type:        types.HighlightCustomPrompt,
			Description: fmt.Sprintf("Prompt match: %q", prompt),
			Metadata:    map[string]string{"excerpt": m.Excerpt},
		})
	}
	return proposals, nil
}
