package genexports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/mirek/vita/internal/domain/model"
)

// Column layouts of the delimited export formats.
var (
	garminHeader = []string{
		"Date", "Steps", "Distance (km)", "Calories", "Active Minutes",
		"Resting Heart Rate", "Sleep Duration (h)", "HRV (ms)", "Stress Score",
	}
	cronometerHeader = []string{
		"Day", "Energy (kcal)", "Protein (g)", "Carbs (g)", "Fat (g)", "Water (ml)",
	}
	manualHeader = []string{"Date", "Metric", "Value", "Unit"}
)

// renderGarminCSV renders the wide daily activity export.
func renderGarminCSV(timeline []dayMetrics) ([]byte, error) {
	rows := [][]string{garminHeader}
	for _, d := range timeline {
		rows = append(rows, []string{
			d.day.Format(dateLayout),
			strconv.Itoa(d.steps),
			formatFloat(d.distanceKM, 2),
			strconv.Itoa(d.calories),
			strconv.Itoa(d.activeMinutes),
			strconv.Itoa(d.restingHR),
			formatFloat(d.sleepHours, 1),
			strconv.Itoa(d.hrvMS),
			strconv.Itoa(d.stress),
		})
	}
	return renderCSV(rows)
}

// renderCronometerCSV renders the wide daily nutrition export.
func renderCronometerCSV(timeline []dayMetrics) ([]byte, error) {
	rows := [][]string{cronometerHeader}
	for _, d := range timeline {
		rows = append(rows, []string{
			d.day.Format(dateLayout),
			strconv.Itoa(d.energyKcal),
			strconv.Itoa(d.proteinG),
			strconv.Itoa(d.carbsG),
			strconv.Itoa(d.fatG),
			strconv.Itoa(d.waterML),
		})
	}
	return renderCSV(rows)
}

// renderManualCSV renders sparse hand-typed entries: a weight row every
// third day and a water row every other day.
func renderManualCSV(timeline []dayMetrics) ([]byte, error) {
	rows := [][]string{manualHeader}
	for i, d := range timeline {
		date := d.day.Format(dateLayout)
		if i%3 == 0 {
			rows = append(rows, []string{
				date, string(model.MetricWeight), formatFloat(d.weightKG, 1), model.MetricWeight.Unit(),
			})
		}
		if i%2 == 0 {
			rows = append(rows, []string{
				date, string(model.MetricWater), strconv.Itoa(d.waterML), model.MetricWater.Unit(),
			})
		}
	}
	return renderCSV(rows)
}

// renderCSV writes rows through the csv encoder.
func renderCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("encoding rows: %w", err)
	}
	return buf.Bytes(), nil
}

// formatFloat renders v with prec decimal places.
func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
