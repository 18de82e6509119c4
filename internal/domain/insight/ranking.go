package insight

import (
	"sort"

	"github.com/mirek/vita/internal/domain/model"
)

// Rank orders insights in place by confidence, strongest first,
// breaking ties by window recency.
func Rank(insights []model.Insight) {
	sort.SliceStable(insights, func(i, j int) bool {
		if insights[i].Confidence != insights[j].Confidence {
			return insights[i].Confidence > insights[j].Confidence
		}
		return insights[i].WindowEnd.After(insights[j].WindowEnd)
	})
}

// Dedupe keeps, per rule, only the highest-confidence insight among
// those with overlapping windows. The input must already be ranked.
func Dedupe(insights []model.Insight) []model.Insight {
	kept := make([]model.Insight, 0, len(insights))
	for _, candidate := range insights {
		shadowed := false
		for _, k := range kept {
			if k.RuleID == candidate.RuleID && k.Overlaps(candidate.WindowStart, candidate.WindowEnd) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			kept = append(kept, candidate)
		}
	}
	return kept
}
