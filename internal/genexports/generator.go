package genexports

import (
	"math"
	"math/rand"
	"time"
)

// exportZone is the local zone instant-valued fields are rendered in.
var exportZone = time.FixedZone("UTC+2", exportZoneHours*60*60)

// dayMetrics is one synthetic day of the generated timeline, held in
// each provider's natural raw units. Renderers pick the subset their
// format carries.
type dayMetrics struct {
	day           time.Time
	steps         int
	distanceKM    float64
	calories      int
	activeMinutes int
	restingHR     int
	hrvMS         int
	sleepHours    float64
	stress        int
	readiness     int
	weightKG      float64
	spo2Fraction  float64
	respRate      float64
	energyKcal    int
	proteinG      int
	carbsG        int
	fatG          int
	waterML       int
	bedStart      time.Time
	bedEnd        time.Time
}

// buildTimeline generates days consecutive synthetic days ending at
// end. The same seed always produces the same timeline: weekday and
// weekend rhythms, a slow weight drift, and recovery values that track
// the previous night's sleep.
func buildTimeline(rng *rand.Rand, days int, end time.Time) []dayMetrics {
	timeline := make([]dayMetrics, 0, days)
	weight := baselineWeightKG + rng.NormFloat64()*weightSpreadKG
	prevSleep := baselineSleepHours

	for i := days - 1; i >= 0; i-- {
		date := end.AddDate(0, 0, -i)
		day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		d := dayMetrics{day: day}

		stepsMean := weekdayStepsMean
		sleepMean := baselineSleepHours
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			stepsMean = weekendStepsMean
			sleepMean += weekendSleepBonus
		}

		d.sleepHours = clamp(sleepMean+rng.NormFloat64()*sleepJitterHours, minSleepHours, maxSleepHours)

		// Recovery tracks the night before, not the night of.
		lost := baselineSleepHours - prevSleep
		d.restingHR = int(clamp(baselineRestingHR+lost*restingHRPerLostHour+rng.NormFloat64()*restingHRJitter, minRestingHR, maxRestingHR))
		elevated := float64(d.restingHR) - baselineRestingHR
		d.hrvMS = int(clamp(baselineHRVms-elevated*hrvPerRestingBeat+rng.NormFloat64()*hrvJitter, minHRVms, maxHRVms))
		d.stress = int(clamp(baselineStress+lost*stressPerLostHour+rng.NormFloat64()*stressJitter, minScore, maxScore))
		d.readiness = int(clamp(baselineReadiness-lost*readinessPerLostHour-elevated+rng.NormFloat64()*readinessJitter, minScore, maxScore))

		d.steps = int(clamp(stepsMean+rng.NormFloat64()*stepsJitter, minDailySteps, maxDailySteps))
		d.distanceKM = math.Max(minDistanceKM, round2(float64(d.steps)*metersPerStep/1000+rng.NormFloat64()*distanceJitterKM))
		d.activeMinutes = int(clamp(float64(d.steps)/stepsPerActiveMinute+rng.NormFloat64()*activeMinutesJitter, 0, maxActiveMinutes))
		d.calories = int(burnBaseKcal + float64(d.steps)*burnPerStepKcal + rng.NormFloat64()*burnJitterKcal)

		weight += rng.NormFloat64() * weightDriftKG
		d.weightKG = round1(weight)
		d.spo2Fraction = spo2Floor + rng.Float64()*spo2Range
		d.respRate = round1(baselineRespRate + rng.NormFloat64()*respRateJitter)

		intake := intakeMeanKcal + rng.NormFloat64()*intakeJitterKcal
		d.energyKcal = int(intake)
		d.proteinG = int(intake * proteinShare / kcalPerGramProtein)
		d.carbsG = int(intake * carbShare / kcalPerGramCarb)
		d.fatG = int(intake * fatShare / kcalPerGramFat)
		d.waterML = int(waterMeanML + rng.NormFloat64()*waterJitterML)

		jitter := time.Duration(rng.Intn(bedStartJitterMin)) * time.Minute
		d.bedStart = time.Date(day.Year(), day.Month(), day.Day(), bedStartHour, bedStartBaseMinute, 0, 0, exportZone).
			AddDate(0, 0, -1).Add(jitter)
		d.bedEnd = d.bedStart.
			Add(time.Duration(d.sleepHours * float64(time.Hour))).
			Add(awakeInBedMinutes * time.Minute)

		prevSleep = d.sleepHours
		timeline = append(timeline, d)
	}

	return timeline
}

// clamp limits v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
