// Package insight implements the correlation engine: declarative
// rules evaluated per user over a point-in-time snapshot, publishing
// significance-gated findings through the store.
package insight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/internal/domain/stats"
	"github.com/mirek/vita/pkg/logger"
	"github.com/mirek/vita/pkg/metrics"
)

// Default evaluation constants.
const (
	defaultBudget   = 5 * time.Second
	confidenceHalfN = 8

	derivationWindowDays = 7
	acuteWindowDays      = 7
	chronicWindowDays    = 28
)

// Suppression reasons for rule evaluation.
const (
	reasonInsufficientData = "insufficient_data"
	reasonBelowMinSamples  = "below_min_samples"
	reasonNotSignificant   = "not_significant"
)

// Insight is the published finding type. Using the model.Insight type
// keeps the engine and the store on the same contract.
type Insight = model.Insight

// Source provides the snapshot reads and publication a cycle needs.
type Source interface {
	// Snapshot captures several metric series in one consistent read.
	Snapshot(ctx context.Context, userID string, metricTypes []model.MetricType, from, to time.Time) (model.Snapshot, error)

	// ReplaceInsights atomically supersedes one rule's insights whose
	// windows overlap [windowStart, windowEnd].
	ReplaceInsights(ctx context.Context, userID, ruleID string, windowStart, windowEnd time.Time, insights []model.Insight) error
}

// CycleResult summarizes one evaluation cycle for one user.
type CycleResult struct {
	UserID     string
	Published  []model.Insight
	Evaluated  int
	Suppressed int
	Truncated  bool
	Elapsed    time.Duration
}

// Engine evaluates correlation rules against per-user snapshots.
type Engine struct {
	source Source
	rules  []Rule
	budget time.Duration
	clock  func() time.Time
	logger logger.Logger
}

// New creates an engine over the given source.
func New(source Source, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		rules:  DefaultRules(),
		budget: defaultBudget,
		clock:  time.Now,
		logger: logger.Get().Named("insight"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// RunCycle takes one snapshot for the user, evaluates every rule in
// order and publishes each completed rule's finding on the spot. The
// execution budget bounds the whole cycle; rules finished before the
// deadline keep their published results while the interrupted rule
// publishes nothing.
func (e *Engine) RunCycle(ctx context.Context, userID string) (CycleResult, error) {
	started := time.Now()
	now := e.clock()
	res := CycleResult{UserID: userID}

	cctx := ctx
	if e.budget > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.budget)
		defer cancel()
	}

	fetchEnd := stats.DayOf(now)
	fetchStart := fetchEnd.AddDate(0, 0, -(e.fetchDays() - 1))
	snap, err := e.source.Snapshot(cctx, userID, e.metricSet(), fetchStart, fetchEnd)
	if err != nil {
		metrics.RecordInsightCycle("error")
		return res, fmt.Errorf("snapshot for %s: %w", userID, err)
	}

	for _, rule := range e.rules {
		if cerr := cctx.Err(); cerr != nil {
			return e.abort(ctx, res, started, cerr)
		}

		ins, ok, reason := e.evaluateRule(snap, rule, now)
		res.Evaluated++
		metrics.RecordRuleEvaluated()
		if !ok {
			res.Suppressed++
			metrics.RecordRuleSuppressed(reason)
			continue
		}

		err := e.source.ReplaceInsights(cctx, userID, rule.RuleID, ins.WindowStart, ins.WindowEnd, []model.Insight{ins})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return e.abort(ctx, res, started, err)
			}
			metrics.RecordInsightCycle("error")
			return res, fmt.Errorf("publish %s for %s: %w", rule.RuleID, userID, err)
		}
		res.Published = append(res.Published, ins)
	}

	res.Elapsed = time.Since(started)
	metrics.RecordInsightCycle("completed")
	metrics.RecordInsightCycleDuration(float64(res.Elapsed.Milliseconds()))
	metrics.RecordInsightsEmitted(len(res.Published))
	e.logger.Info(ctx, "insight cycle completed",
		logger.String("user_id", userID),
		logger.Int("evaluated", res.Evaluated),
		logger.Int("published", len(res.Published)),
		logger.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// EvaluateUser evaluates rules against an already-taken snapshot
// without publishing anything. Rules finished before ctx expires are
// returned ranked; a deadline hit mid-sweep reports ErrBudgetExceeded
// alongside the completed results.
func (e *Engine) EvaluateUser(ctx context.Context, snap model.Snapshot, rules []Rule, now time.Time) ([]model.Insight, error) {
	out := make([]model.Insight, 0, len(rules))
	for i, rule := range rules {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return out, fmt.Errorf("%w after %d of %d rules", ErrBudgetExceeded, i, len(rules))
			}
			return out, err
		}
		ins, ok, _ := e.evaluateRule(snap, rule, now)
		if !ok {
			continue
		}
		out = append(out, ins)
	}
	Rank(out)
	return out, nil
}

// abort finishes a cycle cut short by deadline or cancellation.
func (e *Engine) abort(ctx context.Context, res CycleResult, started time.Time, cause error) (CycleResult, error) {
	res.Truncated = true
	res.Elapsed = time.Since(started)

	if errors.Is(cause, context.DeadlineExceeded) {
		metrics.RecordInsightCycle("truncated")
		metrics.RecordInsightCycleDuration(float64(res.Elapsed.Milliseconds()))
		metrics.RecordInsightsEmitted(len(res.Published))
		e.logger.Warn(ctx, "insight cycle truncated by budget",
			logger.String("user_id", res.UserID),
			logger.Int("evaluated", res.Evaluated),
			logger.Int("published", len(res.Published)),
		)
		return res, fmt.Errorf("%w after %d of %d rules", ErrBudgetExceeded, res.Evaluated, len(e.rules))
	}

	metrics.RecordInsightCycle("cancelled")
	e.logger.Warn(ctx, "insight cycle cancelled",
		logger.String("user_id", res.UserID),
		logger.Error(cause),
	)
	return res, cause
}

// evaluateRule sweeps the rule's lags over the snapshot and returns
// the strongest significant finding, or a suppression reason.
func (e *Engine) evaluateRule(snap model.Snapshot, rule Rule, now time.Time) (model.Insight, bool, string) {
	windowEnd := stats.DayOf(now)
	windowStart := windowEnd.AddDate(0, 0, -(rule.WindowDays - 1))

	predicate := clip(deriveSeries(snap, rule), windowStart, windowEnd)
	effectMetric := rule.EffectMetric
	effect := clip(stats.DailyTotals(snap.SeriesFor(effectMetric), effectMetric.Additive()), windowStart, windowEnd)

	var best stats.Correlation
	bestLag := -1
	var sawComputed, sawSmall bool
	for lag := 0; lag <= rule.MaxLagDays; lag++ {
		corr, err := stats.LaggedCorrelation(predicate, effect, lag)
		if err != nil {
			continue
		}
		if corr.SampleCount < rule.MinSamples {
			sawSmall = true
			continue
		}
		sawComputed = true
		if corr.PValue > rule.SignificanceThreshold {
			continue
		}
		if bestLag < 0 || math.Abs(corr.Coefficient) > math.Abs(best.Coefficient) {
			best = corr
			bestLag = lag
		}
	}

	if bestLag < 0 {
		switch {
		case sawComputed:
			return model.Insight{}, false, reasonNotSignificant
		case sawSmall:
			return model.Insight{}, false, reasonBelowMinSamples
		default:
			return model.Insight{}, false, reasonInsufficientData
		}
	}

	ins := model.Insight{
		ID:           model.NewInsightID(),
		RuleID:       rule.RuleID,
		UserID:       snap.UserID,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		LagDays:      bestLag,
		EffectSize:   best.Coefficient,
		PValue:       best.PValue,
		SampleCount:  best.SampleCount,
		Confidence:   confidence(best.Coefficient, best.SampleCount),
		Tier:         tierFor(best.Coefficient, best.PValue),
		RenderedText: renderText(rule, best.Coefficient, best.SampleCount, bestLag),
		ComputedAt:   now,
	}
	return ins, true, ""
}

// deriveSeries builds the predicate series a rule correlates from.
func deriveSeries(snap model.Snapshot, rule Rule) []stats.DayValue {
	metric := rule.PredicateMetric
	daily := stats.DailyTotals(snap.SeriesFor(metric), metric.Additive())

	switch rule.Derivation {
	case DeriveRollingStdDev:
		return stats.Rolling(daily, derivationWindowDays, stats.StatStdDev)
	case DeriveAcuteChronic:
		dense := daily
		if metric.Additive() {
			dense = stats.FillMissing(daily, 0)
		}
		acute := stats.Rolling(dense, acuteWindowDays, stats.StatMean)
		chronic := stats.Rolling(dense, chronicWindowDays, stats.StatMean)
		return ratioSeries(acute, chronic)
	default:
		return daily
	}
}

// ratioSeries divides a by b day-wise, dropping days where either
// side is absent or the denominator is zero.
func ratioSeries(a, b []stats.DayValue) []stats.DayValue {
	byDay := make(map[time.Time]float64, len(b))
	for _, dv := range b {
		byDay[dv.Day] = dv.Value
	}

	out := make([]stats.DayValue, 0, len(a))
	for _, dv := range a {
		denom, ok := byDay[dv.Day]
		if !ok || denom == 0 {
			continue
		}
		out = append(out, stats.DayValue{Day: dv.Day, Value: dv.Value / denom})
	}
	return out
}

// clip bounds a series to [from, to] inclusive.
func clip(series []stats.DayValue, from, to time.Time) []stats.DayValue {
	out := make([]stats.DayValue, 0, len(series))
	for _, dv := range series {
		if dv.Day.Before(from) || dv.Day.After(to) {
			continue
		}
		out = append(out, dv)
	}
	return out
}

// metricSet collects the metrics any rule touches, in rule order.
func (e *Engine) metricSet() []model.MetricType {
	seen := make(map[model.MetricType]struct{}, len(e.rules)*2)
	out := make([]model.MetricType, 0, len(e.rules)*2)
	for _, r := range e.rules {
		for _, m := range []model.MetricType{r.PredicateMetric, r.EffectMetric} {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// fetchDays sizes the snapshot so every rule's window plus its
// derivation lookback fits.
func (e *Engine) fetchDays() int {
	days := 1
	for _, r := range e.rules {
		need := r.WindowDays + derivationLookback(r.Derivation)
		if need > days {
			days = need
		}
	}
	return days
}

func derivationLookback(d Derivation) int {
	switch d {
	case DeriveRollingStdDev:
		return derivationWindowDays
	case DeriveAcuteChronic:
		return chronicWindowDays
	default:
		return 0
	}
}
