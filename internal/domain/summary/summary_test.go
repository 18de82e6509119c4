package summary_test

import (
	"testing"
	"time"

	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/internal/domain/summary"
	"github.com/smartystreets/goconvey/convey"
)

func rec(metric model.MetricType, ts time.Time, v float64) model.Record {
	return model.Record{
		UserID:    "user-1",
		Metric:    metric,
		Value:     v,
		Unit:      metric.Unit(),
		Timestamp: ts,
		Provider:  model.ProviderOura,
	}
}

func daily(metric model.MetricType, start time.Time, values ...float64) []model.Record {
	out := make([]model.Record, len(values))
	for i, v := range values {
		out[i] = rec(metric, start.AddDate(0, 0, i).Add(7*time.Hour), v)
	}
	return out
}

func snapOf(series map[model.MetricType][]model.Record) model.Snapshot {
	return model.Snapshot{UserID: "user-1", Series: series}
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestBuildDaily(t *testing.T) {
	convey.Convey("Given a snapshot with a partially covered day", t, func() {
		day := time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC)
		snap := snapOf(map[model.MetricType][]model.Record{
			model.MetricSteps: {
				rec(model.MetricSteps, day.Add(9*time.Hour), 4000),
				rec(model.MetricSteps, day.Add(18*time.Hour), 6000),
			},
			model.MetricHRV: {
				rec(model.MetricHRV, day.Add(6*time.Hour), 65),
			},
		})

		convey.Convey("When building the daily roll-up", func() {
			d := summary.BuildDaily(snap, day.Add(15*time.Hour))

			convey.Convey("Then present metrics aggregate and absent ones stay nil", func() {
				convey.So(d.UserID, convey.ShouldEqual, "user-1")
				convey.So(d.Day.Equal(day), convey.ShouldBeTrue)
				convey.So(d.Steps, convey.ShouldNotBeNil)
				convey.So(*d.Steps, convey.ShouldEqual, 10000)
				convey.So(d.HRVms, convey.ShouldNotBeNil)
				convey.So(*d.HRVms, convey.ShouldEqual, 65)
				convey.So(d.SleepMinutes, convey.ShouldBeNil)
				convey.So(d.RestingHR, convey.ShouldBeNil)
			})
		})
	})
}

func TestDetectAnomalies(t *testing.T) {
	convey.Convey("Given a month of history and a fresh day", t, func() {
		start := time.Date(2025, 7, 29, 0, 0, 0, 0, time.UTC)
		now := time.Date(2025, 8, 28, 14, 0, 0, 0, time.UTC)

		convey.Convey("When HRV collapses below its baseline", func() {
			values := flat(31, 60)
			values[30] = 40
			snap := snapOf(map[model.MetricType][]model.Record{
				model.MetricHRV: daily(model.MetricHRV, start, values...),
			})

			anomalies := summary.DetectAnomalies(snap, now)

			convey.Convey("Then the drop is reported", func() {
				convey.So(anomalies, convey.ShouldHaveLength, 1)
				a := anomalies[0]
				convey.So(a.Kind, convey.ShouldEqual, summary.KindHRVDrop)
				convey.So(a.Metric, convey.ShouldEqual, model.MetricHRV)
				convey.So(a.Value, convey.ShouldEqual, 40)
				convey.So(a.Baseline, convey.ShouldAlmostEqual, 60, 0.0001)
				convey.So(a.Delta, convey.ShouldAlmostEqual, -20, 0.0001)
				convey.So(a.Text, convey.ShouldContainSubstring, "33% below")
			})
		})

		convey.Convey("When HRV dips but stays inside the band", func() {
			values := flat(31, 60)
			values[30] = 43
			snap := snapOf(map[model.MetricType][]model.Record{
				model.MetricHRV: daily(model.MetricHRV, start, values...),
			})

			convey.So(summary.DetectAnomalies(snap, now), convey.ShouldBeEmpty)
		})

		convey.Convey("When resting heart rate spikes", func() {
			values := flat(31, 50)
			values[30] = 58
			snap := snapOf(map[model.MetricType][]model.Record{
				model.MetricRestingHeartRate: daily(model.MetricRestingHeartRate, start, values...),
			})

			anomalies := summary.DetectAnomalies(snap, now)

			convey.Convey("Then the spike is reported", func() {
				convey.So(anomalies, convey.ShouldHaveLength, 1)
				convey.So(anomalies[0].Kind, convey.ShouldEqual, summary.KindRestingSpike)
				convey.So(anomalies[0].Delta, convey.ShouldAlmostEqual, 8, 0.0001)
			})
		})

		convey.Convey("When sleep falls well short of its baseline", func() {
			values := flat(31, 450)
			values[30] = 350
			snap := snapOf(map[model.MetricType][]model.Record{
				model.MetricSleepDuration: daily(model.MetricSleepDuration, start, values...),
			})

			anomalies := summary.DetectAnomalies(snap, now)

			convey.Convey("Then the debt is reported", func() {
				convey.So(anomalies, convey.ShouldHaveLength, 1)
				convey.So(anomalies[0].Kind, convey.ShouldEqual, summary.KindSleepDebt)
				convey.So(anomalies[0].Text, convey.ShouldContainSubstring, "100 minutes short")
			})
		})

		convey.Convey("When every baseline breaks at once", func() {
			hrv := flat(31, 60)
			hrv[30] = 30
			rhr := flat(31, 50)
			rhr[30] = 62
			sleep := flat(31, 450)
			sleep[30] = 300
			snap := snapOf(map[model.MetricType][]model.Record{
				model.MetricHRV:              daily(model.MetricHRV, start, hrv...),
				model.MetricRestingHeartRate: daily(model.MetricRestingHeartRate, start, rhr...),
				model.MetricSleepDuration:    daily(model.MetricSleepDuration, start, sleep...),
			})

			anomalies := summary.DetectAnomalies(snap, now)

			convey.Convey("Then all three fire", func() {
				convey.So(anomalies, convey.ShouldHaveLength, 3)
			})
		})

		convey.Convey("When the history is too thin to trust", func() {
			shortStart := time.Date(2025, 8, 23, 0, 0, 0, 0, time.UTC)
			values := []float64{60, 60, 60, 60, 60, 20}
			snap := snapOf(map[model.MetricType][]model.Record{
				model.MetricHRV: daily(model.MetricHRV, shortStart, values...),
			})

			convey.So(summary.DetectAnomalies(snap, now), convey.ShouldBeEmpty)
		})
	})
}

func TestWeeklyReport(t *testing.T) {
	convey.Convey("Given two contrasting weeks", t, func() {
		start := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
		steps := append(flat(7, 5000), flat(7, 10000)...)
		sleep := append(flat(7, 400), flat(7, 430)...)
		snap := snapOf(map[model.MetricType][]model.Record{
			model.MetricSteps:         daily(model.MetricSteps, start, steps...),
			model.MetricSleepDuration: daily(model.MetricSleepDuration, start, sleep...),
		})

		convey.Convey("When reporting the week ending August 28th", func() {
			report := summary.WeeklyReport(snap, time.Date(2025, 8, 28, 16, 0, 0, 0, time.UTC))

			convey.Convey("Then totals and averages compare week over week", func() {
				convey.So(report.WeekStart.Equal(time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC)), convey.ShouldBeTrue)
				convey.So(report.WeekEnd.Equal(time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC)), convey.ShouldBeTrue)
				convey.So(report.Current.Steps, convey.ShouldEqual, 70000)
				convey.So(report.Previous.Steps, convey.ShouldEqual, 35000)
				convey.So(report.Current.AvgSleepMinutes, convey.ShouldAlmostEqual, 430, 0.0001)
				convey.So(report.Previous.AvgSleepMinutes, convey.ShouldAlmostEqual, 400, 0.0001)
				convey.So(report.Current.DaysWithData, convey.ShouldEqual, 7)
				convey.So(report.Previous.DaysWithData, convey.ShouldEqual, 7)
			})
		})

		convey.Convey("When the snapshot is empty", func() {
			report := summary.WeeklyReport(model.Snapshot{UserID: "user-1"}, time.Now())

			convey.Convey("Then everything is zero", func() {
				convey.So(report.Current.Steps, convey.ShouldEqual, 0)
				convey.So(report.Current.DaysWithData, convey.ShouldEqual, 0)
			})
		})
	})
}
