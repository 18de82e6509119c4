// Package model contains domain models passed between layers.
package model

// MetricType identifies a canonical health metric.
type MetricType string

// Canonical metric vocabulary. Values are stored in the canonical unit
// listed in MetricUnits, independent of how a provider reported them.
const (
	MetricHeartRate        MetricType = "heart_rate"
	MetricRestingHeartRate MetricType = "resting_heart_rate"
	MetricHRV              MetricType = "hrv"
	MetricSteps            MetricType = "steps"
	MetricDistance         MetricType = "distance"
	MetricCalories         MetricType = "calories"
	MetricActiveMinutes    MetricType = "active_minutes"
	MetricSleepDuration    MetricType = "sleep_duration"
	MetricSleepStage       MetricType = "sleep_stage"
	MetricSleepOnset       MetricType = "sleep_onset"
	MetricSleepEnd         MetricType = "sleep_end"
	MetricWeight           MetricType = "weight"
	MetricSpO2             MetricType = "spo2"
	MetricRespiratoryRate  MetricType = "respiratory_rate"
	MetricMacroProtein     MetricType = "macro_protein"
	MetricMacroCarbs       MetricType = "macro_carbs"
	MetricMacroFat         MetricType = "macro_fat"
	MetricWater            MetricType = "water"
	MetricStressScore      MetricType = "stress_score"
	MetricReadinessScore   MetricType = "readiness_score"
)

// MetricUnits maps each metric type to its canonical storage unit.
// Distances are meters and weights kilograms; clock instants
// (sleep_onset, sleep_end) are seconds past local midnight so that
// bedtime arithmetic stays meaningful across days.
var MetricUnits = map[MetricType]string{
	MetricHeartRate:        "bpm",
	MetricRestingHeartRate: "bpm",
	MetricHRV:              "ms",
	MetricSteps:            "count",
	MetricDistance:         "m",
	MetricCalories:         "kcal",
	MetricActiveMinutes:    "min",
	MetricSleepDuration:    "min",
	MetricSleepStage:       "stage",
	MetricSleepOnset:       "s",
	MetricSleepEnd:         "s",
	MetricWeight:           "kg",
	MetricSpO2:             "%",
	MetricRespiratoryRate:  "breaths/min",
	MetricMacroProtein:     "g",
	MetricMacroCarbs:       "g",
	MetricMacroFat:         "g",
	MetricWater:            "ml",
	MetricStressScore:      "score",
	MetricReadinessScore:   "score",
}

// additiveMetrics are metrics whose daily value is a running total.
// Days without samples aggregate as zero for these; every other metric
// simply has no value on days without samples.
var additiveMetrics = map[MetricType]bool{
	MetricSteps:         true,
	MetricDistance:      true,
	MetricCalories:      true,
	MetricActiveMinutes: true,
	MetricMacroProtein:  true,
	MetricMacroCarbs:    true,
	MetricMacroFat:      true,
	MetricWater:         true,
}

// AllMetricTypes returns every known metric type.
func AllMetricTypes() []MetricType {
	types := make([]MetricType, 0, len(MetricUnits))
	for mt := range MetricUnits {
		types = append(types, mt)
	}
	return types
}

// IsValidMetricType reports whether mt is part of the canonical vocabulary.
func IsValidMetricType(mt MetricType) bool {
	_, ok := MetricUnits[mt]
	return ok
}

// Additive reports whether the metric accumulates over a day.
func (m MetricType) Additive() bool {
	return additiveMetrics[m]
}

// Unit returns the canonical unit for the metric, or "" when unknown.
func (m MetricType) Unit() string {
	return MetricUnits[m]
}

// Bounds is a closed plausibility range in canonical units.
type Bounds struct {
	Min float64
	Max float64
}

// MetricBounds holds per-metric plausibility ranges. Records outside
// their metric's range are skipped during canonicalization. Metrics
// without an entry are unbounded.
var MetricBounds = map[MetricType]Bounds{
	MetricHeartRate:        {Min: 30, Max: 250},
	MetricRestingHeartRate: {Min: 30, Max: 150},
	MetricHRV:              {Min: 0, Max: 300},
	MetricSteps:            {Min: 0, Max: 200000},
	MetricDistance:         {Min: 0, Max: 400000},
	MetricCalories:         {Min: 0, Max: 20000},
	MetricActiveMinutes:    {Min: 0, Max: 1440},
	MetricSleepDuration:    {Min: 0, Max: 1440},
	MetricSleepOnset:       {Min: 0, Max: 86400},
	MetricSleepEnd:         {Min: 0, Max: 86400},
	MetricWeight:           {Min: 20, Max: 400},
	MetricSpO2:             {Min: 70, Max: 100},
	MetricRespiratoryRate:  {Min: 4, Max: 60},
	MetricWater:            {Min: 0, Max: 20000},
	MetricStressScore:      {Min: 0, Max: 100},
	MetricReadinessScore:   {Min: 0, Max: 100},
}

// InRange reports whether v is plausible for the metric.
func (m MetricType) InRange(v float64) bool {
	b, ok := MetricBounds[m]
	if !ok {
		return true
	}
	return v >= b.Min && v <= b.Max
}

// Provider identifies the system a record originated from.
type Provider string

// Supported source providers.
const (
	ProviderFitbit      Provider = "fitbit"
	ProviderGarmin      Provider = "garmin"
	ProviderOura        Provider = "oura"
	ProviderAppleHealth Provider = "apple_health"
	ProviderCronometer  Provider = "cronometer"
	ProviderManual      Provider = "manual"
)

// AllProviders returns every supported provider.
func AllProviders() []Provider {
	return []Provider{
		ProviderFitbit,
		ProviderGarmin,
		ProviderOura,
		ProviderAppleHealth,
		ProviderCronometer,
		ProviderManual,
	}
}

// IsValidProvider reports whether p is a supported provider.
func IsValidProvider(p Provider) bool {
	switch p {
	case ProviderFitbit, ProviderGarmin, ProviderOura,
		ProviderAppleHealth, ProviderCronometer, ProviderManual:
		return true
	}
	return false
}
