package insight

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mirek/vita/internal/domain/model"
)

// Tier thresholds on coefficient strength and significance.
const (
	tierHighCoefficient   = 0.5
	tierHighPValue        = 0.01
	tierMediumCoefficient = 0.3
	tierMediumPValue      = 0.05
)

// confidence blends effect size and evidence volume into [0, 1]. The
// sample term n/(n+k) rises toward one as evidence accumulates, so a
// strong coefficient over three days scores below the same coefficient
// over a month.
func confidence(coefficient float64, samples int) float64 {
	n := float64(samples)
	return math.Abs(coefficient) * n / (n + confidenceHalfN)
}

// tierFor buckets a finding by coefficient strength and significance.
func tierFor(coefficient, pValue float64) model.InsightTier {
	abs := math.Abs(coefficient)
	switch {
	case abs >= tierHighCoefficient && pValue <= tierHighPValue:
		return model.TierHigh
	case abs >= tierMediumCoefficient && pValue <= tierMediumPValue:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// renderText fills a rule template with direction-aware wording.
func renderText(rule Rule, coefficient float64, samples, lagDays int) string {
	direction := "higher"
	if coefficient < 0 {
		direction = "lower"
	}

	r := strings.NewReplacer(
		"{predicate}", humanize(rule.PredicateMetric),
		"{effect}", humanize(rule.EffectMetric),
		"{direction}", direction,
		"{lag}", lagPhrase(lagDays),
		"{r}", fmt.Sprintf("%.2f", coefficient),
		"{n}", strconv.Itoa(samples),
	)
	return r.Replace(rule.Template)
}

func humanize(metric model.MetricType) string {
	return strings.ReplaceAll(string(metric), "_", " ")
}

func lagPhrase(lagDays int) string {
	switch lagDays {
	case 0:
		return "the same day"
	case 1:
		return "the next day"
	default:
		return fmt.Sprintf("%d days later", lagDays)
	}
}
