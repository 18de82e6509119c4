package model

import (
	"time"

	"github.com/google/uuid"
)

// InsightTier buckets insight confidence for presentation.
type InsightTier string

const (
	TierLow    InsightTier = "low"
	TierMedium InsightTier = "medium"
	TierHigh   InsightTier = "high"
)

// Insight is one significance-gated finding for a user over a time
// window. Each evaluation cycle produces fresh insights; results for
// the same (rule, user, window) supersede earlier ones.
type Insight struct {
	ID           uuid.UUID
	RuleID       string
	UserID       string
	WindowStart  time.Time // first UTC day covered, midnight
	WindowEnd    time.Time // last UTC day covered, midnight
	LagDays      int       // chosen predicate -> effect offset
	EffectSize   float64   // Pearson coefficient at the chosen lag
	PValue       float64
	SampleCount  int
	Confidence   float64 // monotonic in |EffectSize| and SampleCount, in [0,1]
	Tier         InsightTier
	RenderedText string
	ComputedAt   time.Time
}

// Overlaps reports whether the insight's window intersects [start, end].
func (i Insight) Overlaps(start, end time.Time) bool {
	return !i.WindowEnd.Before(start) && !i.WindowStart.After(end)
}

// NewInsightID returns a fresh insight identifier.
func NewInsightID() uuid.UUID {
	return uuid.New()
}
