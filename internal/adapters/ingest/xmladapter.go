// Package ingest defines the provider export adapters and their registry.
package ingest

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode"

	"github.com/mirek/vita/internal/domain/model"
)

// Markup element and attribute names of the tagged export format.
const (
	markupRoot       = "HealthData"
	markupRecord     = "Record"
	markupTimeLayout = "2006-01-02 15:04:05 -0700"
)

// XMLAdapter parses tagged-markup exports as a token stream so
// multi-megabyte files never need a full document tree in memory.
type XMLAdapter struct{}

// NewXMLAdapter creates the tagged-markup adapter.
func NewXMLAdapter() *XMLAdapter {
	return &XMLAdapter{}
}

// Name returns the adapter's format name.
func (a *XMLAdapter) Name() string {
	return "tagged-markup"
}

// Detect reports whether peek looks like markup and whether the known
// root element is present.
func (a *XMLAdapter) Detect(peek []byte) (model.Provider, bool) {
	trimmed := bytes.TrimLeftFunc(peek, unicode.IsSpace)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return "", false
	}
	if bytes.Contains(peek, []byte("<"+markupRoot)) {
		return model.ProviderAppleHealth, true
	}
	// Markup without the known root stops the sniff here; the registry
	// reports it as unsupported.
	return "", true
}

// Parse streams the document and extracts one record per Record element.
// Elements missing required attributes or carrying an unparseable
// timestamp are skipped and counted.
func (a *XMLAdapter) Parse(ctx context.Context, r io.Reader) (*Payload, error) {
	dec := xml.NewDecoder(r)
	payload := &Payload{Provider: model.ProviderAppleHealth}
	sawRoot := false

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("parse cancelled: %w", ctx.Err())
		default:
		}

		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !sawRoot {
				return nil, fmt.Errorf("%w: invalid markup: %v", ErrUnsupportedFormat, err)
			}
			// Decoder state is unreliable after a syntax error.
			payload.MalformedRows++
			break
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case markupRoot:
			sawRoot = true
		case markupRecord:
			a.parseRecord(se, payload)
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("%w: missing %s root", ErrUnsupportedFormat, markupRoot)
	}
	return payload, nil
}

// parseRecord extracts one raw record from a Record element's attributes.
func (a *XMLAdapter) parseRecord(se xml.StartElement, payload *Payload) {
	var typ, unit, value, startDate string
	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "type":
			typ = attr.Value
		case "unit":
			unit = attr.Value
		case "value":
			value = attr.Value
		case "startDate":
			startDate = attr.Value
		}
	}

	if typ == "" || value == "" || startDate == "" {
		payload.MalformedRows++
		return
	}

	t, err := time.Parse(markupTimeLayout, startDate)
	if err != nil {
		payload.MalformedRows++
		return
	}
	_, offset := t.Zone()

	payload.Records = append(payload.Records, RawRecord{
		FieldName:     typ,
		RawValue:      value,
		UnitHint:      unit,
		TimestampRaw:  startDate,
		Provider:      model.ProviderAppleHealth,
		OffsetMinutes: offset / 60,
		HasOffset:     true,
	})
}
