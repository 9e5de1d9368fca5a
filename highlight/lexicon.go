package highlight

import (
	"regexp"
	"strings"

	"github.com/KenB-Good/ClipMaster/types"
)

// Keyword lexicons, matched case-insensitively against transcript segments.
// "clip that" phrases outrank the rest because the streamer explicitly asked
// for a clip.
var (
	clipThatPhrases = []string{
		"clip that", "clip it", "did you see",
	}

	excitementKeywords = []string{
		"wow", "amazing", "incredible", "unbelievable", "insane", "crazy",
		"no way", "holy", "omg", "sick", "nuts", "epic", "legendary",
		"perfect", "beautiful", "awesome",
	}

	gamingKeywords = []string{
		"headshot", "ace", "clutch", "pentakill", "victory", "win",
		"kill", "elimination", "boss", "rare", "loot", "achievement",
	}

	reactionKeywords = []string{
		"laugh", "scream", "excited", "shocked", "surprised", "funny",
		"hilarious", "reaction", "emotional", "tears", "crying",
	}
)

// chatExcitementKeywords score chat lines, not transcripts. Mostly Twitch
// vocabulary.
var chatExcitementKeywords = []string{
	"clip", "poggers", "pog", "omg", "wow", "insane", "crazy",
	"unbelievable", "sick", "nuts", "epic", "legendary",
	"wtf", "no way", "holy", "amazing", "incredible", "gg",
	"ez", "rip", "kappa", "lul", "pepehands", "monkas",
}

// emotionalPatterns catch moments keyword lists miss: laughter, drawn-out
// exclamations, shouting.
var emotionalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ha+h+a+|he+h+e+)\b`),
	regexp.MustCompile(`(?i)\b(oh+|ah+|uh+)\b`),
	regexp.MustCompile(`[!]{2,}`),
	regexp.MustCompile(`[A-Z]{3,}`),
	regexp.MustCompile(`(?i)\b(yes+|no+o+)\b`),
}

// matchLexicon returns the keywords from lex present in text (already
// lowercased).
func matchLexicon(text string, lex []string) []string {
	var hits []string
	for _, kw := range lex {
		if strings.Contains(text, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

// matchEmotional returns the first emotional-pattern match in text, or "".
func matchEmotional(text string) string {
	for _, re := range emotionalPatterns {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// chatExcitement scores one chat line. Keywords, shouting, stacked
// exclamation marks, and emotes each add weight; messages from subscribers,
// VIPs, and moderators weigh 1.5x.
func chatExcitement(msg types.ChatMessage) float64 {
	text := strings.ToLower(msg.Text)

	score := 0.0
	for _, kw := range chatExcitementKeywords {
		if strings.Contains(text, kw) {
			score++
		}
	}
	if len(msg.Text) > 3 && msg.Text == strings.ToUpper(msg.Text) && msg.Text != strings.ToLower(msg.Text) {
		score++
	}
	if n := strings.Count(text, "!"); n >= 3 {
		score += float64(n / 3)
	}
	if msg.HasEmotes {
		score++
	}
	if _, ok := msg.Badges["subscriber"]; ok {
		score *= 1.5
	} else if _, ok := msg.Badges["vip"]; ok {
		score *= 1.5
	} else if _, ok := msg.Badges["moderator"]; ok {
		score *= 1.5
	}
	return score
}
