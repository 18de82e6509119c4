package mapper

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mirek/vita/internal/domain/model"
)

// Mapping is one (provider, raw field) rule of the table: which
// canonical metric the field feeds, how its values convert, and the
// source unit the mapping expects. A raw unit hint contradicting
// RawUnit is a schema mismatch; empty RawUnit accepts any hint.
type Mapping struct {
	Metric     model.MetricType `koanf:"metric"`
	Conversion string           `koanf:"conversion"`
	RawUnit    string           `koanf:"raw_unit"`
}

// Table is a versioned mapping table. It is built once at startup and
// never mutated afterwards.
type Table struct {
	Version  int
	mappings map[model.Provider]map[string]Mapping
}

// Lookup returns the rule for a (provider, field) pair.
func (t *Table) Lookup(p model.Provider, field string) (Mapping, bool) {
	m, ok := t.mappings[p][field]
	return m, ok
}

// Set adds or replaces the rule for a (provider, field) pair.
func (t *Table) Set(p model.Provider, field string, m Mapping) {
	if t.mappings[p] == nil {
		t.mappings[p] = make(map[string]Mapping)
	}
	t.mappings[p][field] = m
}

// Len returns the number of rules in the table.
func (t *Table) Len() int {
	n := 0
	for _, fields := range t.mappings {
		n += len(fields)
	}
	return n
}

// DefaultTable returns the built-in version-1 table covering the closed
// set of provider export formats.
func DefaultTable() *Table {
	t := &Table{
		Version:  1,
		mappings: make(map[model.Provider]map[string]Mapping),
	}

	t.mappings[model.ProviderGarmin] = map[string]Mapping{
		"Steps":              {Metric: model.MetricSteps, Conversion: ConvIdentity},
		"Distance (km)":      {Metric: model.MetricDistance, Conversion: ConvKMToMeters, RawUnit: "km"},
		"Calories":           {Metric: model.MetricCalories, Conversion: ConvIdentity},
		"Active Minutes":     {Metric: model.MetricActiveMinutes, Conversion: ConvIdentity},
		"Resting Heart Rate": {Metric: model.MetricRestingHeartRate, Conversion: ConvIdentity},
		"Sleep Duration (h)": {Metric: model.MetricSleepDuration, Conversion: ConvHoursToMin, RawUnit: "h"},
		"HRV (ms)":           {Metric: model.MetricHRV, Conversion: ConvIdentity, RawUnit: "ms"},
		"Stress Score":       {Metric: model.MetricStressScore, Conversion: ConvIdentity},
	}

	t.mappings[model.ProviderCronometer] = map[string]Mapping{
		"Energy (kcal)": {Metric: model.MetricCalories, Conversion: ConvIdentity, RawUnit: "kcal"},
		"Protein (g)":   {Metric: model.MetricMacroProtein, Conversion: ConvIdentity, RawUnit: "g"},
		"Carbs (g)":     {Metric: model.MetricMacroCarbs, Conversion: ConvIdentity, RawUnit: "g"},
		"Fat (g)":       {Metric: model.MetricMacroFat, Conversion: ConvIdentity, RawUnit: "g"},
		"Water (ml)":    {Metric: model.MetricWater, Conversion: ConvIdentity, RawUnit: "ml"},
	}

	t.mappings[model.ProviderFitbit] = map[string]Mapping{
		"activities-steps":             {Metric: model.MetricSteps, Conversion: ConvIdentity},
		"activities-distance":          {Metric: model.MetricDistance, Conversion: ConvKMToMeters},
		"activities-calories":          {Metric: model.MetricCalories, Conversion: ConvIdentity},
		"activities-minutesVeryActive": {Metric: model.MetricActiveMinutes, Conversion: ConvIdentity},
		"activities-heart":             {Metric: model.MetricRestingHeartRate, Conversion: ConvIdentity},
		"sleep-minutesAsleep":          {Metric: model.MetricSleepDuration, Conversion: ConvIdentity},
		"body-weight":                  {Metric: model.MetricWeight, Conversion: ConvIdentity},
		"foods-log-water":              {Metric: model.MetricWater, Conversion: ConvIdentity},
	}

	t.mappings[model.ProviderOura] = map[string]Mapping{
		"score":                {Metric: model.MetricReadinessScore, Conversion: ConvIdentity},
		"total_sleep_duration": {Metric: model.MetricSleepDuration, Conversion: ConvSecToMin},
		"average_hrv":          {Metric: model.MetricHRV, Conversion: ConvIdentity},
		"lowest_heart_rate":    {Metric: model.MetricRestingHeartRate, Conversion: ConvIdentity},
		"bedtime_start":        {Metric: model.MetricSleepOnset, Conversion: ConvClockToSeconds},
		"bedtime_end":          {Metric: model.MetricSleepEnd, Conversion: ConvClockToSeconds},
		"steps":                {Metric: model.MetricSteps, Conversion: ConvIdentity},
		"total_calories":       {Metric: model.MetricCalories, Conversion: ConvIdentity},
	}

	t.mappings[model.ProviderAppleHealth] = map[string]Mapping{
		"HKQuantityTypeIdentifierStepCount":                {Metric: model.MetricSteps, Conversion: ConvIdentity, RawUnit: "count"},
		"HKQuantityTypeIdentifierHeartRate":                {Metric: model.MetricHeartRate, Conversion: ConvIdentity, RawUnit: "count/min"},
		"HKQuantityTypeIdentifierRestingHeartRate":         {Metric: model.MetricRestingHeartRate, Conversion: ConvIdentity, RawUnit: "count/min"},
		"HKQuantityTypeIdentifierHeartRateVariabilitySDNN": {Metric: model.MetricHRV, Conversion: ConvIdentity, RawUnit: "ms"},
		"HKQuantityTypeIdentifierBodyMass":                 {Metric: model.MetricWeight, Conversion: ConvPoundsToKG, RawUnit: "lb"},
		"HKQuantityTypeIdentifierDistanceWalkingRunning":   {Metric: model.MetricDistance, Conversion: ConvKMToMeters, RawUnit: "km"},
		"HKQuantityTypeIdentifierActiveEnergyBurned":       {Metric: model.MetricCalories, Conversion: ConvIdentity, RawUnit: "kcal"},
		"HKQuantityTypeIdentifierOxygenSaturation":         {Metric: model.MetricSpO2, Conversion: ConvFractionToPct, RawUnit: "%"},
		"HKQuantityTypeIdentifierRespiratoryRate":          {Metric: model.MetricRespiratoryRate, Conversion: ConvIdentity, RawUnit: "count/min"},
		"HKCategoryTypeIdentifierSleepAnalysis":            {Metric: model.MetricSleepStage, Conversion: ConvSleepStage},
	}

	// Manual entries name canonical metrics directly.
	manual := make(map[string]Mapping, len(model.MetricUnits))
	for _, mt := range model.AllMetricTypes() {
		conv := ConvIdentity
		switch mt {
		case model.MetricSleepOnset, model.MetricSleepEnd:
			conv = ConvClockToSeconds
		case model.MetricSleepStage:
			conv = ConvSleepStage
		}
		manual[string(mt)] = Mapping{Metric: mt, Conversion: conv, RawUnit: manualRawUnit(mt)}
	}
	t.mappings[model.ProviderManual] = manual

	return t
}

// manualRawUnit is the unit a manual entry row is expected to declare.
func manualRawUnit(mt model.MetricType) string {
	switch mt {
	case model.MetricSleepOnset, model.MetricSleepEnd:
		return "clock"
	case model.MetricSleepStage:
		return "stage"
	}
	return mt.Unit()
}

// tableFile is the YAML overlay shape.
type tableFile struct {
	Version  int                           `koanf:"version"`
	Mappings map[string]map[string]Mapping `koanf:"mappings"`
}

// LoadTable returns the default table overlaid with the mapping file at
// path. Overlay entries replace or add (provider, field) rules; the
// table version becomes the file's when higher.
func LoadTable(path string) (*Table, error) {
	// Raw field names may contain dots (contributors.deep_sleep), so
	// the flattener must not split on them.
	k := koanf.New("::")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadTable, err)
	}

	var tf tableFile
	if err := k.UnmarshalWithConf("", &tf, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadTable, err)
	}

	t := DefaultTable()
	for providerName, fields := range tf.Mappings {
		provider := model.Provider(providerName)
		if !model.IsValidProvider(provider) {
			return nil, fmt.Errorf("%w: unknown provider %q", ErrLoadTable, providerName)
		}
		for field, mapping := range fields {
			if !model.IsValidMetricType(mapping.Metric) {
				return nil, fmt.Errorf("%w: %s/%s maps to unknown metric %q",
					ErrLoadTable, providerName, field, mapping.Metric)
			}
			if mapping.Conversion == "" {
				mapping.Conversion = ConvIdentity
			}
			if !IsValidConversion(mapping.Conversion) {
				return nil, fmt.Errorf("%w: %s/%s uses unknown conversion %q",
					ErrLoadTable, providerName, field, mapping.Conversion)
			}
			t.Set(provider, field, mapping)
		}
	}
	if tf.Version > t.Version {
		t.Version = tf.Version
	}

	return t, nil
}
