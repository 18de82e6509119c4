// Package stats implements the daily-series statistics behind the
// insight and summary engines. A series is a sparse list of UTC
// calendar days sorted ascending; every function preserves that
// ordering.
package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mirek/vita/internal/domain/model"
	"gonum.org/v1/gonum/stat"
)

// Stat selects the aggregate computed over a rolling window.
type Stat int

// Rolling window aggregate kinds.
const (
	StatMean Stat = iota
	StatStdDev
	StatSum
	StatCount
)

// DayValue is one calendar day of a metric series. Day is always a UTC
// midnight instant.
type DayValue struct {
	Day   time.Time
	Value float64
}

// DayOf truncates an instant to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyTotals buckets records into calendar days. Additive metrics sum
// within a day, everything else averages.
func DailyTotals(records []model.Record, additive bool) []DayValue {
	if len(records) == 0 {
		return nil
	}

	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, rec := range records {
		day := DayOf(rec.Timestamp)
		sums[day] += rec.Value
		counts[day]++
	}

	series := make([]DayValue, 0, len(sums))
	for day, sum := range sums {
		v := sum
		if !additive {
			v = sum / float64(counts[day])
		}
		series = append(series, DayValue{Day: day, Value: v})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Day.Before(series[j].Day) })
	return series
}

// FillMissing densifies a series, inserting fill for every absent
// calendar day between the first and last days. Additive series are
// filled with zero before rolling so that empty days drag the window
// down instead of vanishing from it.
func FillMissing(series []DayValue, fill float64) []DayValue {
	if len(series) < 2 {
		return series
	}

	out := make([]DayValue, 0, len(series))
	next := 0
	for day := series[0].Day; !day.After(series[len(series)-1].Day); day = day.AddDate(0, 0, 1) {
		if next < len(series) && series[next].Day.Equal(day) {
			out = append(out, series[next])
			next++
			continue
		}
		out = append(out, DayValue{Day: day, Value: fill})
	}
	return out
}

// Rolling computes a trailing-window aggregate anchored at each day of
// the series. A window covers the windowDays calendar days ending at
// the anchor inclusive; days absent from the series contribute
// nothing. Standard deviation anchors with fewer than two points are
// dropped.
func Rolling(series []DayValue, windowDays int, kind Stat) []DayValue {
	if windowDays < 1 || len(series) == 0 {
		return nil
	}

	out := make([]DayValue, 0, len(series))
	scratch := make([]float64, 0, windowDays)
	lo := 0
	for i, anchor := range series {
		cutoff := anchor.Day.AddDate(0, 0, -windowDays)
		for series[lo].Day.Before(cutoff) || series[lo].Day.Equal(cutoff) {
			lo++
		}
		scratch = scratch[:0]
		for _, dv := range series[lo : i+1] {
			scratch = append(scratch, dv.Value)
		}
		v, ok := aggregate(scratch, kind)
		if !ok {
			continue
		}
		out = append(out, DayValue{Day: anchor.Day, Value: v})
	}
	return out
}

func aggregate(values []float64, kind Stat) (float64, bool) {
	switch kind {
	case StatMean:
		return stat.Mean(values, nil), true
	case StatStdDev:
		if len(values) < 2 {
			return 0, false
		}
		return stat.StdDev(values, nil), true
	case StatSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, true
	case StatCount:
		return float64(len(values)), true
	}
	return 0, false
}

// Correlation is the outcome of a lagged Pearson test.
type Correlation struct {
	Coefficient float64
	PValue      float64
	SampleCount int
}

// LaggedCorrelation pairs the predicate value on day d with the effect
// value on day d+lagDays and computes Pearson's r over the pairs. It
// returns ErrInsufficientData when fewer than two pairs exist or when
// either side has zero variance.
func LaggedCorrelation(predicate, effect []DayValue, lagDays int) (Correlation, error) {
	byDay := make(map[time.Time]float64, len(effect))
	for _, dv := range effect {
		byDay[dv.Day] = dv.Value
	}

	xs := make([]float64, 0, len(predicate))
	ys := make([]float64, 0, len(predicate))
	for _, dv := range predicate {
		if v, ok := byDay[dv.Day.AddDate(0, 0, lagDays)]; ok {
			xs = append(xs, dv.Value)
			ys = append(ys, v)
		}
	}
	if len(xs) < 2 {
		return Correlation{}, fmt.Errorf("%w: %d overlapping days", ErrInsufficientData, len(xs))
	}
	if stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return Correlation{}, fmt.Errorf("%w: series without variance", ErrInsufficientData)
	}

	r := stat.Correlation(xs, ys, nil)
	return Correlation{
		Coefficient: r,
		PValue:      pValue(r, len(xs)),
		SampleCount: len(xs),
	}, nil
}

// AcuteChronicRatio divides the mean over the trailing acuteDays by
// the mean over the trailing chronicDays, both anchored at the last
// day of the series.
func AcuteChronicRatio(series []DayValue, acuteDays, chronicDays int) (float64, error) {
	if len(series) == 0 || acuteDays < 1 || chronicDays <= acuteDays {
		return 0, fmt.Errorf("%w: need a series and a chronic window longer than the acute one", ErrInsufficientData)
	}

	anchor := series[len(series)-1].Day
	acute := windowMean(series, anchor, acuteDays)
	chronic := windowMean(series, anchor, chronicDays)
	if chronic == 0 {
		return 0, fmt.Errorf("%w: chronic window has zero mean", ErrInsufficientData)
	}
	return acute / chronic, nil
}

func windowMean(series []DayValue, anchor time.Time, days int) float64 {
	cutoff := anchor.AddDate(0, 0, -days)
	var sum float64
	var n int
	for _, dv := range series {
		if dv.Day.After(cutoff) && !dv.Day.After(anchor) {
			sum += dv.Value
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// pValue approximates the two-tailed significance of r over n pairs
// using the t statistic against a normal tail.
func pValue(r float64, n int) float64 {
	if n <= 2 {
		return 1
	}
	denom := 1 - r*r
	if denom <= 0 {
		return 0
	}
	t := r * math.Sqrt(float64(n-2)/denom)
	return 2 * normalCDF(-math.Abs(t))
}

// normalCDF is the standard normal cumulative distribution.
func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
