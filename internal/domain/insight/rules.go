package insight

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mirek/vita/internal/domain/model"
)

// Derivation selects how a rule's predicate series is derived from the
// raw daily aggregates.
type Derivation string

// Predicate derivations.
const (
	// DeriveDaily correlates the plain daily aggregate.
	DeriveDaily Derivation = "daily"
	// DeriveRollingStdDev correlates a trailing standard deviation, a
	// regularity measure.
	DeriveRollingStdDev Derivation = "rolling_stddev"
	// DeriveAcuteChronic correlates the acute:chronic load ratio.
	DeriveAcuteChronic Derivation = "acute_chronic"
)

// defaultTemplate renders rules that do not bring their own wording.
const defaultTemplate = "{predicate} lines up with {direction} {effect} {lag} (r={r}, n={n})."

// Rule is one declarative correlation hypothesis: does the predicate
// metric move with the effect metric, possibly a few days later. Rules
// are static configuration loaded once at startup.
type Rule struct {
	RuleID                string           `koanf:"rule_id"`
	PredicateMetric       model.MetricType `koanf:"predicate_metric"`
	EffectMetric          model.MetricType `koanf:"effect_metric"`
	Derivation            Derivation       `koanf:"derivation"`
	WindowDays            int              `koanf:"window_days"`
	MaxLagDays            int              `koanf:"max_lag_days"`
	MinSamples            int              `koanf:"min_samples"`
	SignificanceThreshold float64          `koanf:"significance_threshold"`
	Template              string           `koanf:"template"`
}

// Validate reports the first problem with the rule.
func (r Rule) Validate() error {
	switch {
	case strings.TrimSpace(r.RuleID) == "":
		return errors.New("missing rule_id")
	case !model.IsValidMetricType(r.PredicateMetric):
		return fmt.Errorf("unknown predicate metric %q", r.PredicateMetric)
	case !model.IsValidMetricType(r.EffectMetric):
		return fmt.Errorf("unknown effect metric %q", r.EffectMetric)
	case !validDerivation(r.Derivation):
		return fmt.Errorf("unknown derivation %q", r.Derivation)
	case r.WindowDays < 2:
		return errors.New("window_days must cover at least two days")
	case r.MaxLagDays < 0:
		return errors.New("max_lag_days must not be negative")
	case r.MinSamples < 2:
		return errors.New("min_samples must be at least 2")
	case r.SignificanceThreshold <= 0 || r.SignificanceThreshold >= 1:
		return errors.New("significance_threshold must be in (0, 1)")
	}
	return nil
}

func validDerivation(d Derivation) bool {
	switch d {
	case "", DeriveDaily, DeriveRollingStdDev, DeriveAcuteChronic:
		return true
	}
	return false
}

// DefaultRules is the built-in rule set used when no rules file is
// configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			RuleID:                "sleep-duration-resting-hr",
			PredicateMetric:       model.MetricSleepDuration,
			EffectMetric:          model.MetricRestingHeartRate,
			WindowDays:            28,
			MaxLagDays:            1,
			MinSamples:            14,
			SignificanceThreshold: 0.05,
			Template:              "Nights with more sleep are followed by {direction} resting heart rate {lag} (r={r}, n={n}).",
		},
		{
			RuleID:                "sleep-consistency-hrv",
			PredicateMetric:       model.MetricSleepOnset,
			EffectMetric:          model.MetricHRV,
			Derivation:            DeriveRollingStdDev,
			WindowDays:            28,
			MaxLagDays:            1,
			MinSamples:            14,
			SignificanceThreshold: 0.05,
			Template:              "More bedtime variability goes with {direction} HRV {lag} (r={r}, n={n}).",
		},
		{
			RuleID:                "steps-sleep-duration",
			PredicateMetric:       model.MetricSteps,
			EffectMetric:          model.MetricSleepDuration,
			WindowDays:            28,
			MaxLagDays:            1,
			MinSamples:            14,
			SignificanceThreshold: 0.05,
			Template:              "More active days are followed by {direction} sleep duration {lag} (r={r}, n={n}).",
		},
		{
			RuleID:                "active-minutes-readiness",
			PredicateMetric:       model.MetricActiveMinutes,
			EffectMetric:          model.MetricReadinessScore,
			WindowDays:            28,
			MaxLagDays:            2,
			MinSamples:            14,
			SignificanceThreshold: 0.05,
			Template:              "Training time lines up with {direction} readiness {lag} (r={r}, n={n}).",
		},
		{
			RuleID:                "bedtime-regularity-sleep",
			PredicateMetric:       model.MetricSleepOnset,
			EffectMetric:          model.MetricSleepDuration,
			Derivation:            DeriveRollingStdDev,
			WindowDays:            28,
			MaxLagDays:            0,
			MinSamples:            14,
			SignificanceThreshold: 0.05,
			Template:              "Bedtime regularity tracks {direction} sleep duration {lag} (r={r}, n={n}).",
		},
		{
			RuleID:                "training-load-hrv",
			PredicateMetric:       model.MetricSteps,
			EffectMetric:          model.MetricHRV,
			Derivation:            DeriveAcuteChronic,
			WindowDays:            28,
			MaxLagDays:            1,
			MinSamples:            14,
			SignificanceThreshold: 0.05,
			Template:              "A spike in training load precedes {direction} HRV {lag} (r={r}, n={n}).",
		},
	}
}

// ApplyDefaults fills each rule's zero-valued window, sample,
// significance and template settings from def. Lag is left alone
// because zero is a valid explicit choice meaning same-day pairing
// only.
func ApplyDefaults(rules []Rule, def Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		if r.WindowDays == 0 {
			r.WindowDays = def.WindowDays
		}
		if r.MinSamples == 0 {
			r.MinSamples = def.MinSamples
		}
		if r.SignificanceThreshold == 0 {
			r.SignificanceThreshold = def.SignificanceThreshold
		}
		if r.Template == "" {
			r.Template = defaultTemplate
		}
		out[i] = r
	}
	return out
}

// rulesFile is the YAML shape of a rules file.
type rulesFile struct {
	Rules []Rule `koanf:"rules"`
}

// LoadRules reads a YAML rules file, fills omitted settings from def
// and validates the result.
func LoadRules(path string, def Rule) ([]Rule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadRules, path, err)
	}

	var f rulesFile
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadRules, path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("%w: %s: no rules defined", ErrLoadRules, path)
	}

	rules := ApplyDefaults(f.Rules, def)
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: rule %q: %v", ErrLoadRules, path, r.RuleID, err)
		}
	}
	return rules, nil
}
