// Package summary derives at-a-glance projections from snapshots: a
// per-day roll-up, trailing-baseline anomaly checks and week-over-week
// comparisons.
package summary

import (
	"fmt"
	"time"

	"github.com/mirek/vita/internal/domain/model"
	"github.com/mirek/vita/internal/domain/stats"
)

// Baseline thresholds for anomaly detection.
const (
	// BaselineWindowDays is the trailing range a baseline averages over.
	BaselineWindowDays = 30
	minBaselineDays    = 7
	hrvDropFraction    = 0.30
	restingSpikeBPM    = 8.0
	sleepDebtMinutes   = 90.0
)

// Anomaly kinds.
const (
	KindHRVDrop      = "hrv_drop"
	KindRestingSpike = "resting_hr_spike"
	KindSleepDebt    = "sleep_debt"
)

// Daily is one user's day at a glance. Pointer fields are nil when the
// day carries no data for the metric.
type Daily struct {
	UserID         string
	Day            time.Time
	Steps          *float64
	DistanceMeters *float64
	Calories       *float64
	ActiveMinutes  *float64
	SleepMinutes   *float64
	RestingHR      *float64
	HRVms          *float64
}

// Anomaly is one deviation of today's value from its trailing
// baseline.
type Anomaly struct {
	UserID   string
	Day      time.Time
	Metric   model.MetricType
	Value    float64
	Baseline float64
	Delta    float64
	Kind     string
	Text     string
}

// WeekStats aggregates one calendar week. Additive metrics are totals,
// the rest are means over the days present.
type WeekStats struct {
	Steps           float64
	DistanceMeters  float64
	Calories        float64
	ActiveMinutes   float64
	AvgSleepMinutes float64
	AvgRestingHR    float64
	AvgHRVms        float64
	DaysWithData    int
}

// Weekly compares one week against the one before it.
type Weekly struct {
	UserID    string
	WeekStart time.Time
	WeekEnd   time.Time
	Current   WeekStats
	Previous  WeekStats
}

// BuildDaily rolls the snapshot up into one day's summary.
func BuildDaily(snap model.Snapshot, day time.Time) Daily {
	d := stats.DayOf(day)
	return Daily{
		UserID:         snap.UserID,
		Day:            d,
		Steps:          dayAggregate(snap, model.MetricSteps, d),
		DistanceMeters: dayAggregate(snap, model.MetricDistance, d),
		Calories:       dayAggregate(snap, model.MetricCalories, d),
		ActiveMinutes:  dayAggregate(snap, model.MetricActiveMinutes, d),
		SleepMinutes:   dayAggregate(snap, model.MetricSleepDuration, d),
		RestingHR:      dayAggregate(snap, model.MetricRestingHeartRate, d),
		HRVms:          dayAggregate(snap, model.MetricHRV, d),
	}
}

// DetectAnomalies compares today's values against their trailing
// baselines and reports the deviations worth surfacing.
func DetectAnomalies(snap model.Snapshot, now time.Time) []Anomaly {
	today := stats.DayOf(now)
	out := make([]Anomaly, 0, 3)

	if v, base, ok := baselineFor(snap, model.MetricHRV, today); ok && base > 0 && v <= base*(1-hrvDropFraction) {
		out = append(out, Anomaly{
			UserID:   snap.UserID,
			Day:      today,
			Metric:   model.MetricHRV,
			Value:    v,
			Baseline: base,
			Delta:    v - base,
			Kind:     KindHRVDrop,
			Text: fmt.Sprintf("HRV %.0f ms sits %.0f%% below its %d-day average of %.0f ms.",
				v, (1-v/base)*100, BaselineWindowDays, base),
		})
	}

	if v, base, ok := baselineFor(snap, model.MetricRestingHeartRate, today); ok && v >= base+restingSpikeBPM {
		out = append(out, Anomaly{
			UserID:   snap.UserID,
			Day:      today,
			Metric:   model.MetricRestingHeartRate,
			Value:    v,
			Baseline: base,
			Delta:    v - base,
			Kind:     KindRestingSpike,
			Text: fmt.Sprintf("Resting heart rate %.0f bpm runs %.0f bpm above its %d-day average of %.0f.",
				v, v-base, BaselineWindowDays, base),
		})
	}

	if v, base, ok := baselineFor(snap, model.MetricSleepDuration, today); ok && v <= base-sleepDebtMinutes {
		out = append(out, Anomaly{
			UserID:   snap.UserID,
			Day:      today,
			Metric:   model.MetricSleepDuration,
			Value:    v,
			Baseline: base,
			Delta:    v - base,
			Kind:     KindSleepDebt,
			Text: fmt.Sprintf("Sleep of %.0f minutes fell %.0f minutes short of the %d-day average of %.0f.",
				v, base-v, BaselineWindowDays, base),
		})
	}

	return out
}

// WeeklyReport aggregates the week ending at weekEnd next to the week
// before it.
func WeeklyReport(snap model.Snapshot, weekEnd time.Time) Weekly {
	end := stats.DayOf(weekEnd)
	currStart := end.AddDate(0, 0, -6)
	prevEnd := currStart.AddDate(0, 0, -1)
	prevStart := prevEnd.AddDate(0, 0, -6)

	return Weekly{
		UserID:    snap.UserID,
		WeekStart: currStart,
		WeekEnd:   end,
		Current:   weekStats(snap, currStart, end),
		Previous:  weekStats(snap, prevStart, prevEnd),
	}
}

func weekStats(snap model.Snapshot, from, to time.Time) WeekStats {
	return WeekStats{
		Steps:           rangeAggregate(snap, model.MetricSteps, from, to, stats.StatSum),
		DistanceMeters:  rangeAggregate(snap, model.MetricDistance, from, to, stats.StatSum),
		Calories:        rangeAggregate(snap, model.MetricCalories, from, to, stats.StatSum),
		ActiveMinutes:   rangeAggregate(snap, model.MetricActiveMinutes, from, to, stats.StatSum),
		AvgSleepMinutes: rangeAggregate(snap, model.MetricSleepDuration, from, to, stats.StatMean),
		AvgRestingHR:    rangeAggregate(snap, model.MetricRestingHeartRate, from, to, stats.StatMean),
		AvgHRVms:        rangeAggregate(snap, model.MetricHRV, from, to, stats.StatMean),
		DaysWithData:    daysWithData(snap, from, to),
	}
}

// dayAggregate returns the day's aggregated value for one metric, nil
// when the day has no samples.
func dayAggregate(snap model.Snapshot, metric model.MetricType, day time.Time) *float64 {
	series := stats.DailyTotals(snap.SeriesFor(metric), metric.Additive())
	for _, dv := range series {
		if dv.Day.Equal(day) {
			v := dv.Value
			return &v
		}
	}
	return nil
}

// baselineFor returns the day's value next to its trailing mean. The
// baseline needs minBaselineDays of history to be meaningful.
func baselineFor(snap model.Snapshot, metric model.MetricType, day time.Time) (value, baseline float64, ok bool) {
	series := stats.DailyTotals(snap.SeriesFor(metric), metric.Additive())
	oldest := day.AddDate(0, 0, -BaselineWindowDays)

	var sum float64
	var n int
	var found bool
	for _, dv := range series {
		switch {
		case dv.Day.Equal(day):
			value = dv.Value
			found = true
		case dv.Day.Before(day) && !dv.Day.Before(oldest):
			sum += dv.Value
			n++
		}
	}
	if !found || n < minBaselineDays {
		return 0, 0, false
	}
	return value, sum / float64(n), true
}

func rangeAggregate(snap model.Snapshot, metric model.MetricType, from, to time.Time, kind stats.Stat) float64 {
	series := stats.DailyTotals(snap.SeriesFor(metric), metric.Additive())

	var sum float64
	var n int
	for _, dv := range series {
		if dv.Day.Before(from) || dv.Day.After(to) {
			continue
		}
		sum += dv.Value
		n++
	}
	if n == 0 {
		return 0
	}
	if kind == stats.StatMean {
		return sum / float64(n)
	}
	return sum
}

// daysWithData counts the calendar days in [from, to] carrying at
// least one sample of any metric.
func daysWithData(snap model.Snapshot, from, to time.Time) int {
	days := make(map[time.Time]struct{})
	for _, series := range snap.Series {
		for _, rec := range series {
			day := stats.DayOf(rec.Timestamp)
			if day.Before(from) || day.After(to) {
				continue
			}
			days[day] = struct{}{}
		}
	}
	return len(days)
}
