package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Conversion names accepted by mapping tables. The numeric conversions
// are exact linear transforms; the clock and stage conversions parse
// their own raw vocabulary before scaling.
const (
	ConvIdentity       = "identity"
	ConvKMToMeters     = "km_to_meters"
	ConvMilesToMeters  = "miles_to_meters"
	ConvPoundsToKG     = "lb_to_kg"
	ConvMSToMin        = "ms_to_min"
	ConvSecToMin       = "sec_to_min"
	ConvHoursToMin     = "hours_to_min"
	ConvFractionToPct  = "fraction_to_percent"
	ConvClockToSeconds = "clock_to_seconds"
	ConvSleepStage     = "sleep_stage"
)

// Sleep stage ordinals, ordered by depth. REM sits above deep so a
// stage series stays single-valued.
const (
	StageAwake float64 = 0
	StageLight float64 = 1
	StageDeep  float64 = 2
	StageREM   float64 = 3
)

// conversion is a linear transform with an optional raw-value parser
// for non-numeric source vocabularies.
type conversion struct {
	scale  float64
	offset float64
	parse  func(string) (float64, error)
}

var conversions = map[string]conversion{
	ConvIdentity:       {scale: 1},
	ConvKMToMeters:     {scale: 1000},
	ConvMilesToMeters:  {scale: 1609.344},
	ConvPoundsToKG:     {scale: 0.45359237},
	ConvMSToMin:        {scale: 1.0 / 60000},
	ConvSecToMin:       {scale: 1.0 / 60},
	ConvHoursToMin:     {scale: 60},
	ConvFractionToPct:  {scale: 100},
	ConvClockToSeconds: {scale: 1, parse: parseClock},
	ConvSleepStage:     {scale: 1, parse: parseSleepStage},
}

// IsValidConversion reports whether name is a registered conversion.
func IsValidConversion(name string) bool {
	_, ok := conversions[name]
	return ok
}

// apply converts a raw string value to its canonical numeric form.
func (c conversion) apply(raw string) (float64, error) {
	var v float64
	if c.parse != nil {
		parsed, err := c.parse(raw)
		if err != nil {
			return 0, err
		}
		v = parsed
	} else {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", raw)
		}
		v = parsed
	}
	return v*c.scale + c.offset, nil
}

// parseClock reads a wall-clock instant as seconds past local midnight.
// Accepts bare HH:MM[:SS] clocks and full RFC 3339 instants, in which
// case the clock fields of the instant's own zone are used.
func parseClock(s string) (float64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "15:04:05", "15:04"} {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return float64(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
	}
	return 0, fmt.Errorf("not a clock value: %q", s)
}

// parseSleepStage maps a stage label to its ordinal. The closed
// vocabulary covers bare labels (deep, light, rem, awake) and the
// prefixed forms tagged-markup exports use.
func parseSleepStage(s string) (float64, error) {
	lc := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(lc, "deep"):
		return StageDeep, nil
	case strings.Contains(lc, "rem"):
		return StageREM, nil
	case strings.Contains(lc, "light"), strings.Contains(lc, "core"):
		return StageLight, nil
	case strings.Contains(lc, "awake"), strings.Contains(lc, "inbed"), strings.Contains(lc, "in_bed"):
		return StageAwake, nil
	}
	return 0, fmt.Errorf("unknown sleep stage: %q", s)
}
