// Package ingest defines the provider export adapters and their registry.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/mirek/vita/internal/domain/model"
)

// Envelope signatures for the nested-structured formats.
const (
	ouraDataKey = "data"
	ouraDayKey  = "day"
)

// fitbitSeriesPrefixes are the time-series envelope keys: activity,
// sleep, body and food-log series all share the {dateTime, value} shape.
var fitbitSeriesPrefixes = []string{"activities-", "sleep-", "body-", "foods-log-"}

// isFitbitSeries reports whether key names a time-series array.
func isFitbitSeries(key string) bool {
	for _, prefix := range fitbitSeriesPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// JSONAdapter parses nested-structured document exports: Fitbit-style
// time-series envelopes and Oura-style daily document arrays.
type JSONAdapter struct{}

// NewJSONAdapter creates the nested-structured adapter.
func NewJSONAdapter() *JSONAdapter {
	return &JSONAdapter{}
}

// Name returns the adapter's format name.
func (a *JSONAdapter) Name() string {
	return "nested-structured"
}

// Detect reports whether peek looks like a structured document and which
// provider signature it carries, if any.
func (a *JSONAdapter) Detect(peek []byte) (model.Provider, bool) {
	trimmed := bytes.TrimLeftFunc(peek, unicode.IsSpace)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	for _, prefix := range fitbitSeriesPrefixes {
		if bytes.Contains(peek, []byte(`"`+prefix)) {
			return model.ProviderFitbit, true
		}
	}
	if bytes.Contains(peek, []byte(`"`+ouraDataKey+`"`)) && bytes.Contains(peek, []byte(`"`+ouraDayKey+`"`)) {
		return model.ProviderOura, true
	}
	// A structured document without a known signature stops the sniff
	// here; the registry reports it as unsupported.
	return "", true
}

// Parse decodes the document and extracts records from whichever
// envelope it carries. Elements missing their timestamp key are skipped
// and counted.
func (a *JSONAdapter) Parse(ctx context.Context, r io.Reader) (*Payload, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("parse cancelled: %w", ctx.Err())
	default:
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: invalid structured document: %v", ErrUnsupportedFormat, err)
	}

	for key := range doc {
		if isFitbitSeries(key) {
			return a.parseFitbit(doc), nil
		}
	}
	if raw, ok := doc[ouraDataKey]; ok {
		return a.parseOura(raw)
	}

	return nil, fmt.Errorf("%w: structured document without provider signature", ErrUnsupportedFormat)
}

// parseFitbit walks the time-series arrays of {dateTime, value}.
func (a *JSONAdapter) parseFitbit(doc map[string]json.RawMessage) *Payload {
	payload := &Payload{Provider: model.ProviderFitbit}

	keys := make([]string, 0, len(doc))
	for key := range doc {
		if isFitbitSeries(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		var series []map[string]any
		dec := json.NewDecoder(bytes.NewReader(doc[key]))
		dec.UseNumber()
		if err := dec.Decode(&series); err != nil {
			payload.MalformedRows++
			continue
		}

		for _, el := range series {
			dateTime, _ := el["dateTime"].(string)
			value := scalarString(el["value"])
			if dateTime == "" || value == "" {
				payload.MalformedRows++
				continue
			}
			payload.Records = append(payload.Records, RawRecord{
				FieldName:    key,
				RawValue:     value,
				TimestampRaw: dateTime,
				Provider:     model.ProviderFitbit,
			})
		}
	}

	return payload
}

// parseOura walks a data array of per-day documents, flattening one
// level of nested objects (contributors.deep_sleep and friends).
func (a *JSONAdapter) parseOura(raw json.RawMessage) (*Payload, error) {
	var series []map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&series); err != nil {
		return nil, fmt.Errorf("%w: data is not a document array", ErrUnsupportedFormat)
	}

	payload := &Payload{Provider: model.ProviderOura}
	for _, el := range series {
		day, _ := el[ouraDayKey].(string)
		if day == "" {
			payload.MalformedRows++
			continue
		}
		a.flattenOura("", el, day, payload)
	}

	return payload, nil
}

// flattenOura emits records for the scalar fields of one daily document.
func (a *JSONAdapter) flattenOura(prefix string, el map[string]any, day string, payload *Payload) {
	keys := make([]string, 0, len(el))
	for key := range el {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if prefix == "" && (key == "id" || key == ouraDayKey || key == "timestamp") {
			continue
		}
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		switch v := el[key].(type) {
		case json.Number:
			payload.Records = append(payload.Records, RawRecord{
				FieldName:    name,
				RawValue:     v.String(),
				TimestampRaw: day,
				Provider:     model.ProviderOura,
			})
		case string:
			// Instant-valued fields (bedtime_start, bedtime_end) carry
			// their own zone offset.
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				continue
			}
			_, offset := t.Zone()
			payload.Records = append(payload.Records, RawRecord{
				FieldName:     name,
				RawValue:      v,
				TimestampRaw:  v,
				Provider:      model.ProviderOura,
				OffsetMinutes: offset / 60,
				HasOffset:     true,
			})
		case map[string]any:
			if prefix == "" {
				a.flattenOura(name, v, day, payload)
			}
		}
	}
}

// scalarString renders a decoded scalar back to its raw string form.
func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return ""
	}
}
