package inference

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"

	"github.com/KenB-Good/ClipMaster/highlight"
	"github.com/KenB-Good/ClipMaster/types"
)

// CoherePromptMatcher matches transcript segments against a free-form prompt
// by cosine similarity of Cohere embeddings.
type CoherePromptMatcher struct {
	client    *cohereclient.Client
	model     string
	threshold float64
}

// NewCoherePromptMatcher builds a matcher over the Cohere Embed API. The
// HTTP client forces HTTP/1.1 to avoid HTTP/2 protocol errors against the
// embed endpoint.
func NewCoherePromptMatcher(apiKey string) *CoherePromptMatcher {
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
	return &CoherePromptMatcher{
		client: cohereclient.NewClient(
			cohereclient.WithToken(apiKey),
			cohereclient.WithHTTPClient(httpClient),
		),
		model:     "embed-english-v3.0",
		threshold: 0.45,
	}
}

// Match embeds the prompt and every segment in one call and returns the
// segments whose similarity clears the threshold, scaled into a confidence.
func (m *CoherePromptMatcher) Match(ctx context.Context, prompt string, segments []types.TranscriptSegment) ([]highlight.PromptMatch, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	texts := make([]string, 0, len(segments)+1)
	texts = append(texts, prompt)
	for _, seg := range segments {
		texts = append(texts, seg.Text)
	}

	resp, err := m.client.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Texts:          texts,
		Model:          m.model,
		InputType:      cohere.EmbedInputTypeSearchDocument,
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	})
	if err != nil {
		return nil, types.Transient(fmt.Errorf("cohere embed: %w", err))
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, types.Transient(fmt.Errorf("cohere embed returned no float embeddings"))
	}
	vectors := resp.Embeddings.Float
	if len(vectors) != len(texts) {
		return nil, types.Transient(fmt.Errorf("embedding count mismatch: %d for %d texts", len(vectors), len(texts)))
	}

	promptVec := vectors[0]
	var matches []highlight.PromptMatch
	for i, seg := range segments {
		sim := cosineSimilarity(promptVec, vectors[i+1])
		if sim < m.threshold {
			continue
		}
		matches = append(matches, highlight.PromptMatch{
			Start:   seg.Start,
			End:     seg.End,
			Score:   scaleSimilarity(sim, m.threshold),
			Excerpt: seg.Text,
		})
	}
	return matches, nil
}

// scaleSimilarity maps [threshold, 1] onto [0.7, 1] so a bare match already
// clears the default confidence filter.
func scaleSimilarity(sim, threshold float64) float64 {
	span := 1 - threshold
	if span <= 0 {
		return 1
	}
	return math.Min(0.7+0.3*(sim-threshold)/span, 1.0)
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// KeywordPromptMatcher is the offline fallback when no embeddings backend is
// configured: token overlap between the prompt and each segment.
type KeywordPromptMatcher struct{}

// Match scores each segment by the fraction of prompt tokens it contains.
func (KeywordPromptMatcher) Match(_ context.Context, prompt string, segments []types.TranscriptSegment) ([]highlight.PromptMatch, error) {
	tokens := promptTokens(prompt)
	if len(tokens) == 0 {
		return nil, nil
	}
	var matches []highlight.PromptMatch
	for _, seg := range segments {
		text := strings.ToLower(seg.Text)
		hit := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				hit++
			}
		}
		overlap := float64(hit) / float64(len(tokens))
		if overlap < 0.5 {
			continue
		}
		matches = append(matches, highlight.PromptMatch{
			Start:   seg.Start,
			End:     seg.End,
			Score:   math.Min(0.7+0.3*overlap, 1.0),
			Excerpt: seg.Text,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches, nil
}

// promptTokens splits a prompt into lowercase tokens, dropping short filler
// words that would match almost any segment.
func promptTokens(prompt string) []string {
	var tokens []string
	for _, tok := range strings.Fields(strings.ToLower(prompt)) {
		tok = strings.Trim(tok, `.,!?"'`)
		if len(tok) < 3 {
			continue
		}
		switch tok {
		case "the", "and", "for", "with", "that", "this", "when", "where", "moments":
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

var (
	_ highlight.PromptMatcher = (*CoherePromptMatcher)(nil)
	_ highlight.PromptMatcher = KeywordPromptMatcher{}
)
