// Package ingest defines the provider export adapters and their registry.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mirek/vita/internal/domain/model"
)

// Delimited-text dialects recognized by header signature: a wide daily
// activity export (Date + per-metric columns), a wide daily nutrition
// export (Day + nutrient columns) and a narrow Date,Metric,Value,Unit
// format for manual entries.
type csvDialect int

const (
	dialectUnknown csvDialect = iota
	dialectGarmin
	dialectCronometer
	dialectManual
)

// Layouts accepted for the timestamp column.
const (
	csvDateLayout = "2006-01-02"
)

// CSVAdapter parses header-driven delimited-text exports.
type CSVAdapter struct{}

// NewCSVAdapter creates the delimited-text adapter.
func NewCSVAdapter() *CSVAdapter {
	return &CSVAdapter{}
}

// Name returns the adapter's format name.
func (a *CSVAdapter) Name() string {
	return "delimited-text"
}

// Detect reports whether peek starts with a recognized delimited header.
func (a *CSVAdapter) Detect(peek []byte) (model.Provider, bool) {
	line := peek
	if i := bytes.IndexByte(peek, '\n'); i >= 0 {
		line = peek[:i]
	}

	header, err := csv.NewReader(bytes.NewReader(line)).Read()
	if err != nil {
		return "", false
	}

	dialect, provider := classifyHeader(header)
	if dialect == dialectUnknown {
		return "", false
	}
	return provider, true
}

// Parse extracts one raw record per populated metric cell. Rows with
// wrong arity or an unparseable timestamp are skipped and counted.
func (a *CSVAdapter) Parse(ctx context.Context, r io.Reader) (*Payload, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: missing delimited header: %v", ErrUnsupportedFormat, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	dialect, provider := classifyHeader(header)
	if dialect == dialectUnknown {
		return nil, fmt.Errorf("%w: unrecognized delimited header", ErrUnsupportedFormat)
	}

	payload := &Payload{Provider: provider}
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("parse cancelled: %w", ctx.Err())
		default:
		}

		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			payload.MalformedRows++
			continue
		}
		if len(row) != len(header) {
			payload.MalformedRows++
			continue
		}

		if dialect == dialectManual {
			a.parseManualRow(row, payload)
			continue
		}
		a.parseWideRow(header, row, provider, payload)
	}

	return payload, nil
}

// parseWideRow emits one record per non-empty metric column.
func (a *CSVAdapter) parseWideRow(header, row []string, provider model.Provider, payload *Payload) {
	ts := strings.TrimSpace(row[0])
	if _, err := time.Parse(csvDateLayout, ts); err != nil {
		payload.MalformedRows++
		return
	}

	for i := 1; i < len(row); i++ {
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			continue
		}
		payload.Records = append(payload.Records, RawRecord{
			FieldName:    header[i],
			RawValue:     cell,
			UnitHint:     headerUnit(header[i]),
			TimestampRaw: ts,
			Provider:     provider,
		})
	}
}

// parseManualRow emits the single record a Date,Metric,Value,Unit row names.
func (a *CSVAdapter) parseManualRow(row []string, payload *Payload) {
	ts := strings.TrimSpace(row[0])
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		if _, err := time.Parse(csvDateLayout, ts); err != nil {
			payload.MalformedRows++
			return
		}
	}

	field := strings.TrimSpace(row[1])
	value := strings.TrimSpace(row[2])
	if field == "" || value == "" {
		payload.MalformedRows++
		return
	}

	payload.Records = append(payload.Records, RawRecord{
		FieldName:    field,
		RawValue:     value,
		UnitHint:     strings.TrimSpace(row[3]),
		TimestampRaw: ts,
		Provider:     model.ProviderManual,
	})
}

// classifyHeader matches a header row against the known dialect signatures.
func classifyHeader(header []string) (csvDialect, model.Provider) {
	if len(header) == 4 &&
		strings.EqualFold(header[0], "Date") &&
		strings.EqualFold(header[1], "Metric") &&
		strings.EqualFold(header[2], "Value") &&
		strings.EqualFold(header[3], "Unit") {
		return dialectManual, model.ProviderManual
	}

	fields := make(map[string]bool, len(header))
	for _, h := range header {
		fields[strings.TrimSpace(h)] = true
	}
	switch {
	case fields["Date"] && fields["Steps"]:
		return dialectGarmin, model.ProviderGarmin
	case fields["Day"] && fields["Energy (kcal)"]:
		return dialectCronometer, model.ProviderCronometer
	}
	return dialectUnknown, ""
}

// headerUnit extracts the parenthesized unit suffix of a column name,
// e.g. "Distance (km)" -> "km".
func headerUnit(name string) string {
	open := strings.LastIndex(name, "(")
	if open < 0 || !strings.HasSuffix(name, ")") {
		return ""
	}
	return strings.TrimSpace(name[open+1 : len(name)-1])
}
