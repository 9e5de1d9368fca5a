package types

import "time"

// TranscriptSegment is one timed span of recognized speech.
type TranscriptSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcript is the full speech-to-text output for a media range.
type Transcript struct {
	Text     string              `json:"text"`
	Language string              `json:"language,omitempty"`
	Duration float64             `json:"duration"`
	Segments []TranscriptSegment `json:"segments"`
}

// EnergySample is one point of the audio-energy envelope.
type EnergySample struct {
	Timestamp float64 `json:"timestamp"`
	Energy    float64 `json:"energy"`
}

// ChatMessage is one chat line with the metadata the excitement scorer uses.
type ChatMessage struct {
	Timestamp time.Time         `json:"timestamp"`
	Username  string            `json:"username"`
	Text      string            `json:"text"`
	Badges    map[string]string `json:"badges,omitempty"`
	HasEmotes bool              `json:"has_emotes,omitempty"`
	// Offset is seconds from the start of the owning video/segment, filled
	// in by whoever aligns chat time to media time.
	Offset float64 `json:"offset"`
}

// SignalSet bundles every extractor output for one video. Any stream may be
// empty; the scorer degrades gracefully until all of them are.
type SignalSet struct {
	Duration     float64
	Transcript   []TranscriptSegment
	Energy       []EnergySample
	SceneChanges []float64
	Chat         []ChatMessage
}

// Empty reports whether no signal source produced anything to score.
func (s SignalSet) Empty() bool {
	return len(s.Transcript) == 0 && len(s.Energy) == 0 &&
		len(s.SceneChanges) == 0 && len(s.Chat) == 0
}
