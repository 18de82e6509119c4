package genexports

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"time"
)

// Attribute layout of the tagged markup export.
const (
	appleTimeLayout = "2006-01-02 15:04:05 -0700"
	appleSourceName = "iPhone"
	appleLocale     = "en_US"
)

// appleRecord is one sampled quantity of the tagged export.
type appleRecord struct {
	Type       string `xml:"type,attr"`
	SourceName string `xml:"sourceName,attr"`
	Unit       string `xml:"unit,attr"`
	Value      string `xml:"value,attr"`
	StartDate  string `xml:"startDate,attr"`
	EndDate    string `xml:"endDate,attr"`
}

// appleExportDate carries the export's creation instant.
type appleExportDate struct {
	Value string `xml:"value,attr"`
}

// appleExport is the HealthData document layout.
type appleExport struct {
	XMLName    xml.Name        `xml:"HealthData"`
	Locale     string          `xml:"locale,attr"`
	ExportDate appleExportDate `xml:"ExportDate"`
	Records    []appleRecord   `xml:"Record"`
}

// renderAppleXML renders the tagged markup export. Morning vitals carry
// wake-hour timestamps and activity totals evening ones, all in the
// export's local zone.
func renderAppleXML(timeline []dayMetrics) ([]byte, error) {
	export := appleExport{Locale: appleLocale}
	for _, d := range timeline {
		export.Records = append(export.Records,
			quantityRecord("HKQuantityTypeIdentifierBodyMass", "lb", formatFloat(d.weightKG*poundsPerKilogram, 1), clock(d, 7, 15)),
			quantityRecord("HKQuantityTypeIdentifierHeartRateVariabilitySDNN", "ms", strconv.Itoa(d.hrvMS), clock(d, 7, 30)),
			quantityRecord("HKQuantityTypeIdentifierRespiratoryRate", "count/min", formatFloat(d.respRate, 1), clock(d, 7, 40)),
			quantityRecord("HKQuantityTypeIdentifierOxygenSaturation", "%", formatFloat(d.spo2Fraction, 2), clock(d, 7, 45)),
			quantityRecord("HKQuantityTypeIdentifierRestingHeartRate", "count/min", strconv.Itoa(d.restingHR), clock(d, 8, 0)),
			quantityRecord("HKQuantityTypeIdentifierStepCount", "count", strconv.Itoa(d.steps), clock(d, 21, 0)),
			quantityRecord("HKQuantityTypeIdentifierDistanceWalkingRunning", "km", formatFloat(d.distanceKM, 2), clock(d, 21, 0)),
			quantityRecord("HKQuantityTypeIdentifierActiveEnergyBurned", "kcal", strconv.Itoa(d.calories), clock(d, 21, 30)),
		)
	}

	last := timeline[len(timeline)-1]
	export.ExportDate = appleExportDate{Value: clock(last, 23, 59).Format(appleTimeLayout)}

	data, err := xml.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tagged markup export: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

// quantityRecord builds one Record element.
func quantityRecord(typ, unit, value string, at time.Time) appleRecord {
	start := at.Format(appleTimeLayout)
	return appleRecord{
		Type:       typ,
		SourceName: appleSourceName,
		Unit:       unit,
		Value:      value,
		StartDate:  start,
		EndDate:    at.Add(time.Minute).Format(appleTimeLayout),
	}
}

// clock places a sample at the given local wall-clock time of the day.
func clock(d dayMetrics, hour, minute int) time.Time {
	return time.Date(d.day.Year(), d.day.Month(), d.day.Day(), hour, minute, 0, 0, exportZone)
}
