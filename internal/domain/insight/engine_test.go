package insight_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mirek/vita/internal/domain/insight"
	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// fakeSource serves a canned snapshot and records publications.
type fakeSource struct {
	mu        sync.Mutex
	snap      model.Snapshot
	snapErr   error
	delay     time.Duration
	published map[string][]model.Insight
}

func (f *fakeSource) Snapshot(_ context.Context, _ string, _ []model.MetricType, _, _ time.Time) (model.Snapshot, error) {
	if f.snapErr != nil {
		return model.Snapshot{}, f.snapErr
	}
	return f.snap, nil
}

func (f *fakeSource) ReplaceInsights(ctx context.Context, _, ruleID string, _, _ time.Time, insights []model.Insight) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string][]model.Insight)
	}
	f.published[ruleID] = insights
	return nil
}

func (f *fakeSource) publishedFor(ruleID string) []model.Insight {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[ruleID]
}

var testNow = time.Date(2025, 8, 28, 12, 0, 0, 0, time.UTC)

// buildSnapshot lays each value list onto consecutive days starting
// August 1st, one record per day at 08:00 UTC.
func buildSnapshot(userID string, series map[model.MetricType][]float64) model.Snapshot {
	base := time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC)
	snap := model.Snapshot{
		UserID:  userID,
		From:    time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC),
		TakenAt: testNow,
		Series:  make(map[model.MetricType][]model.Record, len(series)),
	}
	for metric, values := range series {
		recs := make([]model.Record, len(values))
		for i, v := range values {
			recs[i] = model.Record{
				UserID:    userID,
				Metric:    metric,
				Value:     v,
				Unit:      metric.Unit(),
				Timestamp: base.AddDate(0, 0, i),
				Provider:  model.ProviderGarmin,
			}
		}
		snap.Series[metric] = recs
	}
	return snap
}

var sleepMinutes = []float64{
	400, 380, 420, 350, 450, 390, 410, 370, 430, 360, 440, 385, 415, 395,
	405, 375, 425, 355, 435, 365, 445, 388, 412, 378, 422, 358, 438, 368,
}

// restingFromSleep derives a resting HR that moves inversely with the
// same day's sleep.
func restingFromSleep(sleep []float64) []float64 {
	out := make([]float64, len(sleep))
	for i, v := range sleep {
		out[i] = 90 - v/10
	}
	return out
}

func TestEvaluateUser(t *testing.T) {
	convey.Convey("Given an engine and a month of data", t, func() {
		src := &fakeSource{}
		eng := insight.New(src, insight.WithClock(func() time.Time { return testNow }))
		sleepRule := insight.DefaultRules()[0]

		convey.Convey("When sleep and resting HR move inversely", func() {
			snap := buildSnapshot("user-1", map[model.MetricType][]float64{
				model.MetricSleepDuration:    sleepMinutes,
				model.MetricRestingHeartRate: restingFromSleep(sleepMinutes),
			})

			insights, err := eng.EvaluateUser(context.Background(), snap, []insight.Rule{sleepRule}, testNow)

			convey.Convey("Then one strong same-day finding emerges", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(insights, convey.ShouldHaveLength, 1)

				ins := insights[0]
				convey.So(ins.RuleID, convey.ShouldEqual, "sleep-duration-resting-hr")
				convey.So(ins.UserID, convey.ShouldEqual, "user-1")
				convey.So(ins.LagDays, convey.ShouldEqual, 0)
				convey.So(ins.EffectSize, convey.ShouldAlmostEqual, -1, 1e-6)
				convey.So(ins.SampleCount, convey.ShouldEqual, 28)
				convey.So(ins.PValue, convey.ShouldBeLessThan, 0.01)
				convey.So(ins.Tier, convey.ShouldEqual, model.TierHigh)
				convey.So(ins.Confidence, convey.ShouldAlmostEqual, 28.0/36.0, 0.001)
				convey.So(ins.WindowStart.Equal(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)), convey.ShouldBeTrue)
				convey.So(ins.WindowEnd.Equal(time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC)), convey.ShouldBeTrue)
				convey.So(ins.RenderedText, convey.ShouldContainSubstring, "lower resting heart rate")
				convey.So(ins.RenderedText, convey.ShouldContainSubstring, "the same day")
			})
		})

		convey.Convey("When fewer days than min_samples exist", func() {
			snap := buildSnapshot("user-1", map[model.MetricType][]float64{
				model.MetricSleepDuration:    sleepMinutes[:10],
				model.MetricRestingHeartRate: restingFromSleep(sleepMinutes[:10]),
			})

			insights, err := eng.EvaluateUser(context.Background(), snap, []insight.Rule{sleepRule}, testNow)

			convey.Convey("Then nothing is emitted", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(insights, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the series do not meaningfully correlate", func() {
			sleep := make([]float64, 20)
			resting := make([]float64, 20)
			rhrCycle := []float64{50, 52, 53, 51}
			for i := range sleep {
				sleep[i] = 400
				if i%2 == 1 {
					sleep[i] = 420
				}
				resting[i] = rhrCycle[i%4]
			}
			snap := buildSnapshot("user-1", map[model.MetricType][]float64{
				model.MetricSleepDuration:    sleep,
				model.MetricRestingHeartRate: resting,
			})

			insights, err := eng.EvaluateUser(context.Background(), snap, []insight.Rule{sleepRule}, testNow)

			convey.Convey("Then the rule stays silent", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(insights, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the context is already past its deadline", func() {
			ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
			defer cancel()
			snap := buildSnapshot("user-1", map[model.MetricType][]float64{
				model.MetricSleepDuration:    sleepMinutes,
				model.MetricRestingHeartRate: restingFromSleep(sleepMinutes),
			})

			insights, err := eng.EvaluateUser(ctx, snap, insight.DefaultRules(), testNow)

			convey.Convey("Then the budget error is reported", func() {
				convey.So(errors.Is(err, insight.ErrBudgetExceeded), convey.ShouldBeTrue)
				convey.So(insights, convey.ShouldBeEmpty)
			})
		})
	})
}

func TestDerivedPredicates(t *testing.T) {
	convey.Convey("Given a month where regularity collapses halfway", t, func() {
		src := &fakeSource{}
		eng := insight.New(src, insight.WithClock(func() time.Time { return testNow }))

		convey.Convey("When bedtime scatter widens and HRV drops", func() {
			onset := make([]float64, 28)
			hrv := make([]float64, 28)
			for i := range onset {
				jitter := 100.0
				hrv[i] = 80
				if i >= 14 {
					jitter = 1500
					hrv[i] = 40
				}
				if i%2 == 1 {
					jitter = -jitter
				}
				onset[i] = 82800 + jitter
			}
			snap := buildSnapshot("user-1", map[model.MetricType][]float64{
				model.MetricSleepOnset: onset,
				model.MetricHRV:        hrv,
			})
			rule := insight.DefaultRules()[1]

			insights, err := eng.EvaluateUser(context.Background(), snap, []insight.Rule{rule}, testNow)

			convey.Convey("Then variability predicts lower HRV", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(insights, convey.ShouldHaveLength, 1)
				convey.So(insights[0].RuleID, convey.ShouldEqual, "sleep-consistency-hrv")
				convey.So(insights[0].EffectSize, convey.ShouldBeLessThan, -0.5)
				convey.So(insights[0].RenderedText, convey.ShouldContainSubstring, "lower HRV")
			})
		})

		convey.Convey("When training load spikes and HRV sags", func() {
			steps := make([]float64, 28)
			hrv := make([]float64, 28)
			for i := range steps {
				steps[i] = 5000
				hrv[i] = 70
				if i >= 21 {
					steps[i] = 11000
					hrv[i] = 70 - float64(i-20)*4
				}
			}
			snap := buildSnapshot("user-1", map[model.MetricType][]float64{
				model.MetricSteps: steps,
				model.MetricHRV:   hrv,
			})
			rule := insight.DefaultRules()[5]

			insights, err := eng.EvaluateUser(context.Background(), snap, []insight.Rule{rule}, testNow)

			convey.Convey("Then the load ratio predicts the sag", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(insights, convey.ShouldHaveLength, 1)
				convey.So(insights[0].RuleID, convey.ShouldEqual, "training-load-hrv")
				convey.So(insights[0].EffectSize, convey.ShouldBeLessThan, -0.5)
			})
		})
	})
}

func TestRunCycle(t *testing.T) {
	convey.Convey("Given an engine wired to a publishing source", t, func() {
		snap := buildSnapshot("user-1", map[model.MetricType][]float64{
			model.MetricSleepDuration:    sleepMinutes,
			model.MetricRestingHeartRate: restingFromSleep(sleepMinutes),
			model.MetricSteps:            doubled(sleepMinutes),
		})
		rules := []insight.Rule{insight.DefaultRules()[0], insight.DefaultRules()[2]}

		convey.Convey("When the budget is generous", func() {
			src := &fakeSource{snap: snap}
			eng := insight.New(src,
				insight.WithRules(rules),
				insight.WithClock(func() time.Time { return testNow }),
				insight.WithBudget(time.Minute),
			)

			res, err := eng.RunCycle(context.Background(), "user-1")

			convey.Convey("Then both rules publish", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Evaluated, convey.ShouldEqual, 2)
				convey.So(res.Published, convey.ShouldHaveLength, 2)
				convey.So(res.Truncated, convey.ShouldBeFalse)
				convey.So(src.publishedFor("sleep-duration-resting-hr"), convey.ShouldHaveLength, 1)
				convey.So(src.publishedFor("steps-sleep-duration"), convey.ShouldHaveLength, 1)
			})
		})

		convey.Convey("When the budget expires between rules", func() {
			src := &fakeSource{snap: snap, delay: 150 * time.Millisecond}
			eng := insight.New(src,
				insight.WithRules(rules),
				insight.WithClock(func() time.Time { return testNow }),
				insight.WithBudget(200*time.Millisecond),
			)

			res, err := eng.RunCycle(context.Background(), "user-1")

			convey.Convey("Then the first finding survives and the rest is lost", func() {
				convey.So(errors.Is(err, insight.ErrBudgetExceeded), convey.ShouldBeTrue)
				convey.So(res.Truncated, convey.ShouldBeTrue)
				convey.So(res.Published, convey.ShouldHaveLength, 1)
				convey.So(src.publishedFor("sleep-duration-resting-hr"), convey.ShouldHaveLength, 1)
				convey.So(src.publishedFor("steps-sleep-duration"), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the caller cancels mid-cycle", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			src := &fakeSource{snap: snap}
			eng := insight.New(src,
				insight.WithRules(rules),
				insight.WithClock(func() time.Time { return testNow }),
			)

			res, err := eng.RunCycle(ctx, "user-1")

			convey.Convey("Then the cycle aborts without publishing", func() {
				convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
				convey.So(res.Truncated, convey.ShouldBeTrue)
				convey.So(res.Published, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the snapshot read fails", func() {
			src := &fakeSource{snapErr: errors.New("disk gone")}
			eng := insight.New(src, insight.WithRules(rules))

			_, err := eng.RunCycle(context.Background(), "user-1")

			convey.Convey("Then the cycle reports the failure", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "snapshot")
			})
		})
	})
}

func TestRankAndDedupe(t *testing.T) {
	convey.Convey("Given overlapping findings of varying confidence", t, func() {
		aug := func(d int) time.Time { return time.Date(2025, 8, d, 0, 0, 0, 0, time.UTC) }
		insights := []model.Insight{
			{RuleID: "a", Confidence: 0.4, WindowStart: aug(1), WindowEnd: aug(28)},
			{RuleID: "a", Confidence: 0.7, WindowStart: aug(10), WindowEnd: aug(30)},
			{RuleID: "b", Confidence: 0.5, WindowStart: aug(1), WindowEnd: aug(28)},
			{RuleID: "a", Confidence: 0.6, WindowStart: aug(1), WindowEnd: aug(15)},
		}

		convey.Convey("When ranking and deduping", func() {
			insight.Rank(insights)
			kept := insight.Dedupe(insights)

			convey.Convey("Then order is by confidence and overlaps collapse per rule", func() {
				convey.So(insights[0].Confidence, convey.ShouldEqual, 0.7)
				convey.So(kept, convey.ShouldHaveLength, 2)
				convey.So(kept[0].RuleID, convey.ShouldEqual, "a")
				convey.So(kept[0].Confidence, convey.ShouldEqual, 0.7)
				convey.So(kept[1].RuleID, convey.ShouldEqual, "b")
			})
		})
	})
}

func doubled(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * 20
	}
	return out
}
