package insight_test

import (
	"errors"
	"os"
	"testing"

	"github.com/mirek/vita/internal/domain/insight"
	"github.com/mirek/vita/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestDefaultRules(t *testing.T) {
	convey.Convey("Given the built-in rule set", t, func() {
		rules := insight.DefaultRules()

		convey.Convey("Then every rule is valid and uniquely named", func() {
			convey.So(rules, convey.ShouldHaveLength, 6)
			seen := make(map[string]bool)
			for _, r := range rules {
				convey.So(r.Validate(), convey.ShouldBeNil)
				convey.So(seen[r.RuleID], convey.ShouldBeFalse)
				seen[r.RuleID] = true
			}
		})
	})
}

func TestRuleValidation(t *testing.T) {
	convey.Convey("Given a valid baseline rule", t, func() {
		base := insight.Rule{
			RuleID:                "water-sleep",
			PredicateMetric:       model.MetricWater,
			EffectMetric:          model.MetricSleepDuration,
			WindowDays:            28,
			MaxLagDays:            1,
			MinSamples:            14,
			SignificanceThreshold: 0.05,
			Template:              "x",
		}
		convey.So(base.Validate(), convey.ShouldBeNil)

		convey.Convey("When single fields go bad", func() {
			cases := []struct {
				name   string
				mutate func(*insight.Rule)
			}{
				{"blank rule id", func(r *insight.Rule) { r.RuleID = "  " }},
				{"unknown predicate", func(r *insight.Rule) { r.PredicateMetric = "charisma" }},
				{"unknown effect", func(r *insight.Rule) { r.EffectMetric = "luck" }},
				{"unknown derivation", func(r *insight.Rule) { r.Derivation = "fourier" }},
				{"tiny window", func(r *insight.Rule) { r.WindowDays = 1 }},
				{"negative lag", func(r *insight.Rule) { r.MaxLagDays = -1 }},
				{"single sample", func(r *insight.Rule) { r.MinSamples = 1 }},
				{"zero significance", func(r *insight.Rule) { r.SignificanceThreshold = 0 }},
				{"unit significance", func(r *insight.Rule) { r.SignificanceThreshold = 1 }},
			}

			convey.Convey("Then each is rejected", func() {
				for _, c := range cases {
					r := base
					c.mutate(&r)
					convey.So(r.Validate(), convey.ShouldNotBeNil)
				}
			})
		})
	})
}

func TestApplyDefaults(t *testing.T) {
	convey.Convey("Given rules with omitted settings", t, func() {
		def := insight.Rule{WindowDays: 28, MinSamples: 14, SignificanceThreshold: 0.05}
		rules := []insight.Rule{
			{RuleID: "sparse", PredicateMetric: model.MetricSteps, EffectMetric: model.MetricHRV},
			{RuleID: "explicit", PredicateMetric: model.MetricSteps, EffectMetric: model.MetricHRV,
				WindowDays: 14, MinSamples: 7, SignificanceThreshold: 0.01, MaxLagDays: 2, Template: "t"},
		}

		convey.Convey("When filling from the defaults", func() {
			filled := insight.ApplyDefaults(rules, def)

			convey.Convey("Then omitted settings are filled and explicit ones kept", func() {
				convey.So(filled[0].WindowDays, convey.ShouldEqual, 28)
				convey.So(filled[0].MinSamples, convey.ShouldEqual, 14)
				convey.So(filled[0].SignificanceThreshold, convey.ShouldEqual, 0.05)
				convey.So(filled[0].MaxLagDays, convey.ShouldEqual, 0)
				convey.So(filled[0].Template, convey.ShouldNotBeEmpty)
				convey.So(filled[0].Validate(), convey.ShouldBeNil)

				convey.So(filled[1].WindowDays, convey.ShouldEqual, 14)
				convey.So(filled[1].MinSamples, convey.ShouldEqual, 7)
				convey.So(filled[1].SignificanceThreshold, convey.ShouldEqual, 0.01)
				convey.So(filled[1].MaxLagDays, convey.ShouldEqual, 2)
				convey.So(filled[1].Template, convey.ShouldEqual, "t")
			})
		})
	})
}

func TestLoadRules(t *testing.T) {
	convey.Convey("Given a rules file on disk", t, func() {
		def := insight.Rule{WindowDays: 28, MinSamples: 14, SignificanceThreshold: 0.05}

		convey.Convey("When the file is well formed", func() {
			path := writeTempRules(`
rules:
  - rule_id: water-sleep
    predicate_metric: water
    effect_metric: sleep_duration
    max_lag_days: 1
  - rule_id: stress-hrv
    predicate_metric: stress_score
    effect_metric: hrv
    window_days: 14
`)
			defer func() { _ = os.Remove(path) }()

			rules, err := insight.LoadRules(path, def)

			convey.Convey("Then rules load with defaults applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rules, convey.ShouldHaveLength, 2)
				convey.So(rules[0].RuleID, convey.ShouldEqual, "water-sleep")
				convey.So(rules[0].WindowDays, convey.ShouldEqual, 28)
				convey.So(rules[0].MaxLagDays, convey.ShouldEqual, 1)
				convey.So(rules[1].WindowDays, convey.ShouldEqual, 14)
				convey.So(rules[1].MinSamples, convey.ShouldEqual, 14)
			})
		})

		convey.Convey("When a rule names an unknown metric", func() {
			path := writeTempRules(`
rules:
  - rule_id: bad
    predicate_metric: charisma
    effect_metric: hrv
`)
			defer func() { _ = os.Remove(path) }()

			_, err := insight.LoadRules(path, def)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, insight.ErrLoadRules), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the file has no rules", func() {
			path := writeTempRules("rules: []\n")
			defer func() { _ = os.Remove(path) }()

			_, err := insight.LoadRules(path, def)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, insight.ErrLoadRules), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the file does not exist", func() {
			_, err := insight.LoadRules("/non/existent/rules.yaml", def)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, insight.ErrLoadRules), convey.ShouldBeTrue)
			})
		})
	})
}

func writeTempRules(content string) string {
	tmpFile, err := os.CreateTemp("", "vita-rules-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
