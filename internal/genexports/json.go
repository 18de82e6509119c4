package genexports

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// fitbitPoint is one sample of a {dateTime, value} time series. The
// export renders every value as a string, whatever its type.
type fitbitPoint struct {
	DateTime string `json:"dateTime"`
	Value    string `json:"value"`
}

// fitbitExport is the time-series envelope layout of a daily export.
type fitbitExport struct {
	Steps      []fitbitPoint `json:"activities-steps"`
	Distance   []fitbitPoint `json:"activities-distance"`
	Calories   []fitbitPoint `json:"activities-calories"`
	VeryActive []fitbitPoint `json:"activities-minutesVeryActive"`
	Heart      []fitbitPoint `json:"activities-heart"`
	Sleep      []fitbitPoint `json:"sleep-minutesAsleep"`
	Weight     []fitbitPoint `json:"body-weight"`
	Water      []fitbitPoint `json:"foods-log-water"`
}

// renderFitbitJSON renders the time-series envelope export.
func renderFitbitJSON(timeline []dayMetrics) ([]byte, error) {
	var export fitbitExport
	for _, d := range timeline {
		day := d.day.Format(dateLayout)
		export.Steps = append(export.Steps, fitbitPoint{DateTime: day, Value: strconv.Itoa(d.steps)})
		export.Distance = append(export.Distance, fitbitPoint{DateTime: day, Value: formatFloat(d.distanceKM, 2)})
		export.Calories = append(export.Calories, fitbitPoint{DateTime: day, Value: strconv.Itoa(d.calories)})
		export.VeryActive = append(export.VeryActive, fitbitPoint{DateTime: day, Value: strconv.Itoa(d.activeMinutes)})
		export.Heart = append(export.Heart, fitbitPoint{DateTime: day, Value: strconv.Itoa(d.restingHR)})
		export.Sleep = append(export.Sleep, fitbitPoint{DateTime: day, Value: strconv.Itoa(sleepMinutes(d))})
		export.Weight = append(export.Weight, fitbitPoint{DateTime: day, Value: formatFloat(d.weightKG, 1)})
		export.Water = append(export.Water, fitbitPoint{DateTime: day, Value: strconv.Itoa(d.waterML)})
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding time-series export: %w", err)
	}
	return data, nil
}

// ouraContributors carries the nested readiness sub-scores.
type ouraContributors struct {
	HRVBalance    int `json:"hrv_balance"`
	PreviousNight int `json:"previous_night"`
	RecoveryIndex int `json:"recovery_index"`
}

// ouraDay is one document of the daily data array.
type ouraDay struct {
	ID                 string           `json:"id"`
	Day                string           `json:"day"`
	Score              int              `json:"score"`
	TotalSleepDuration int              `json:"total_sleep_duration"`
	AverageHRV         int              `json:"average_hrv"`
	LowestHeartRate    int              `json:"lowest_heart_rate"`
	Steps              int              `json:"steps"`
	TotalCalories      int              `json:"total_calories"`
	BedtimeStart       string           `json:"bedtime_start"`
	BedtimeEnd         string           `json:"bedtime_end"`
	Contributors       ouraContributors `json:"contributors"`
	Timestamp          string           `json:"timestamp"`
}

// ouraExport is the paged daily document layout.
type ouraExport struct {
	Data      []ouraDay `json:"data"`
	NextToken *string   `json:"next_token"`
}

// renderOuraJSON renders the daily document array export.
func renderOuraJSON(timeline []dayMetrics) ([]byte, error) {
	export := ouraExport{Data: make([]ouraDay, 0, len(timeline))}
	for _, d := range timeline {
		day := d.day.Format(dateLayout)
		export.Data = append(export.Data, ouraDay{
			ID:                 "readiness-" + day,
			Day:                day,
			Score:              d.readiness,
			TotalSleepDuration: int(math.Round(d.sleepHours * 3600)),
			AverageHRV:         d.hrvMS,
			LowestHeartRate:    lowestHeartRate(d),
			Steps:              d.steps,
			TotalCalories:      d.calories,
			BedtimeStart:       d.bedStart.Format(time.RFC3339),
			BedtimeEnd:         d.bedEnd.Format(time.RFC3339),
			Contributors: ouraContributors{
				HRVBalance:    int(clamp(float64(d.hrvMS)+25, minScore, maxScore)),
				PreviousNight: int(d.sleepHours / maxSleepHours * 100),
				RecoveryIndex: int(clamp(float64(d.readiness)-3, minScore, maxScore)),
			},
			Timestamp: time.Date(d.day.Year(), d.day.Month(), d.day.Day(), 0, 0, 0, 0, exportZone).Format(time.RFC3339),
		})
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding daily document export: %w", err)
	}
	return data, nil
}

// sleepMinutes is the night's sleep as whole minutes.
func sleepMinutes(d dayMetrics) int {
	return int(math.Round(d.sleepHours * 60))
}

// lowestHeartRate dips slightly below the day's resting heart rate.
func lowestHeartRate(d dayMetrics) int {
	if lowest := d.restingHR - overnightDipBeats; lowest > lowestHeartRateMin {
		return lowest
	}
	return lowestHeartRateMin
}
