package highlight

import (
	"math"
	"sort"
	"strings"

	"github.com/KenB-Good/ClipMaster/types"
)

// Proposal is a candidate highlight emitted by one signal analyzer before
// merging and filtering.
type Proposal struct {
	StartTime   float64
	EndTime     float64
	Confidence  float64
	Type        types.HighlightType
	Description string
	Metadata    map[string]string
}

// Duration returns the proposal's span in seconds.
func (p Proposal) Duration() float64 { return p.EndTime - p.StartTime }

// iou is the time-axis intersection over union of two proposals. Disjoint
// spans score 0.
func iou(a, b Proposal) float64 {
	inter := math.Min(a.EndTime, b.EndTime) - math.Max(a.StartTime, b.StartTime)
	if inter <= 0 {
		return 0
	}
	union := math.Max(a.EndTime, b.EndTime) - math.Min(a.StartTime, b.StartTime)
	return inter / union
}

// clampDuration forces a proposal into [minDur, maxDur] symmetrically around
// its midpoint, then back inside [0, total]. A zero total leaves the upper
// bound open.
func clampDuration(p Proposal, minDur, maxDur, total float64) Proposal {
	mid := (p.StartTime + p.EndTime) / 2
	dur := p.Duration()
	if dur < minDur {
		dur = minDur
	} else if dur > maxDur {
		dur = maxDur
	}
	p.StartTime = mid - dur/2
	p.EndTime = mid + dur/2

	if p.StartTime < 0 {
		p.EndTime -= p.StartTime
		p.StartTime = 0
	}
	if total > 0 && p.EndTime > total {
		p.StartTime = math.Max(0, p.StartTime-(p.EndTime-total))
		p.EndTime = total
	}
	return p
}

// mergeProposals collapses overlapping proposals. Two proposals merge when
// their IoU reaches the threshold; the merged span is the union, confidence
// is the max, the category follows the strongest contributor, and rationales
// concatenate. Merging is applied greedily over start-sorted input, so equal
// inputs always produce equal output.
func mergeProposals(proposals []Proposal, iouThreshold float64) []Proposal {
	if len(proposals) == 0 {
		return nil
	}
	sorted := make([]Proposal, len(proposals))
	copy(sorted, proposals)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartTime == sorted[j].StartTime {
			return sorted[i].EndTime < sorted[j].EndTime
		}
		return sorted[i].StartTime < sorted[j].StartTime
	})

	merged := []Proposal{sorted[0]}
	for _, p := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iou(*last, p) >= iouThreshold {
			*last = mergePair(*last, p)
			continue
		}
		merged = append(merged, p)
	}
	return merged
}

func mergePair(a, b Proposal) Proposal {
	out := a
	if b.Confidence > a.Confidence {
		out.Type = b.Type
		out.Confidence = b.Confidence
	}
	out.StartTime = math.Min(a.StartTime, b.StartTime)
	out.EndTime = math.Max(a.EndTime, b.EndTime)
	if b.Description != "" && b.Description != a.Description {
		if out.Description == "" {
			out.Description = b.Description
		} else {
			out.Description += "; " + b.Description
		}
	}
	if len(b.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = map[string]string{}
		} else {
			m := make(map[string]string, len(out.Metadata)+len(b.Metadata))
			for k, v := range out.Metadata {
				m[k] = v
			}
			out.Metadata = m
		}
		for k, v := range b.Metadata {
			if _, ok := out.Metadata[k]; !ok {
				out.Metadata[k] = v
			}
		}
	}
	return out
}

// rank orders proposals by confidence descending, ties broken by start time
// ascending, so repeated runs over the same signals produce the same order.
func rank(proposals []Proposal) {
	sort.SliceStable(proposals, func(i, j int) bool {
		if proposals[i].Confidence == proposals[j].Confidence {
			return proposals[i].StartTime < proposals[j].StartTime
		}
		return proposals[i].Confidence > proposals[j].Confidence
	})
}

func describeKeywords(words []string) string {
	return "Keyword detected: " + strings.Join(words, ", ")
}
