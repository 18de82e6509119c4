// Package mapper canonicalizes raw provider records into the canonical
// metric vocabulary.
//
// A versioned mapping table keyed by (provider, raw field name) decides
// which metric a field feeds and how its values and timestamps convert.
// The table is built at startup (built-in defaults plus an optional
// YAML overlay) and never mutated afterwards. All mapper failures are
// record-level: the offending record is skipped and counted, never
// failing the surrounding job.
package mapper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mirek/vita/internal/adapters/ingest"
	"github.com/mirek/vita/internal/domain/model"
)

// Timestamp layouts accepted from adapters, tried in order. The zoned
// layouts carry their own offset; the naive ones resolve against the
// record's declared offset, then the profile timezone, then UTC.
var (
	zonedLayouts = []string{time.RFC3339, "2006-01-02 15:04:05 -0700"}
	naiveLayouts = []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
)

// Mapper canonicalizes raw records against a mapping table.
type Mapper struct {
	table *Table
}

// New creates a mapper with configuration options.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		table: DefaultTable(), // default mapping table
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Table returns the mapper's active table.
func (m *Mapper) Table() *Table {
	return m.table
}

// Canonicalize converts one raw record into a canonical record for the
// profile's user. Failures are one of the package's record-level
// sentinel kinds.
func (m *Mapper) Canonicalize(raw ingest.RawRecord, prof model.Profile) (*model.Record, error) {
	mapping, ok := m.table.Lookup(raw.Provider, raw.FieldName)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnmappedField, raw.Provider, raw.FieldName)
	}

	if raw.UnitHint != "" && mapping.RawUnit != "" && !strings.EqualFold(raw.UnitHint, mapping.RawUnit) {
		return nil, fmt.Errorf("%w: %s/%s reports %q, mapping expects %q",
			ErrSchemaMismatch, raw.Provider, raw.FieldName, raw.UnitHint, mapping.RawUnit)
	}

	conv, ok := conversions[mapping.Conversion]
	if !ok {
		conv = conversions[ConvIdentity]
	}
	value, err := conv.apply(raw.RawValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrUnitConversion, raw.Provider, raw.FieldName, err)
	}

	ts, err := resolveTimestamp(raw, prof)
	if err != nil {
		return nil, err
	}

	if !mapping.Metric.InRange(value) {
		return nil, fmt.Errorf("%w: %s value %g", ErrOutOfRange, mapping.Metric, value)
	}

	return &model.Record{
		UserID:    prof.UserID,
		Metric:    mapping.Metric,
		Value:     value,
		Unit:      mapping.Metric.Unit(),
		Timestamp: ts,
		Provider:  raw.Provider,
	}, nil
}

// CanonicalizeAll converts a batch, tallying skipped records by reason.
func (m *Mapper) CanonicalizeAll(raws []ingest.RawRecord, prof model.Profile) ([]model.Record, Skips) {
	records := make([]model.Record, 0, len(raws))
	var skips Skips

	for _, raw := range raws {
		rec, err := m.Canonicalize(raw, prof)
		if err != nil {
			skips.count(err)
			continue
		}
		records = append(records, *rec)
	}

	return records, skips
}

// resolveTimestamp parses a raw timestamp and normalizes it to UTC.
func resolveTimestamp(raw ingest.RawRecord, prof model.Profile) (time.Time, error) {
	s := strings.TrimSpace(raw.TimestampRaw)

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	loc := prof.Location()
	if raw.HasOffset {
		loc = time.FixedZone("offset", raw.OffsetMinutes*60)
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrUnitConversion, s)
}

// Skips tallies records dropped during canonicalization by reason.
type Skips struct {
	Unmapped       int
	SchemaMismatch int
	Conversion     int
	OutOfRange     int
}

// count buckets one canonicalization error.
func (s *Skips) count(err error) {
	switch {
	case errors.Is(err, ErrUnmappedField):
		s.Unmapped++
	case errors.Is(err, ErrSchemaMismatch):
		s.SchemaMismatch++
	case errors.Is(err, ErrOutOfRange):
		s.OutOfRange++
	default:
		s.Conversion++
	}
}

// Total returns the number of skipped records.
func (s Skips) Total() int {
	return s.Unmapped + s.SchemaMismatch + s.Conversion + s.OutOfRange
}

// ByReason returns non-zero skip counts keyed by reason label. The
// labels double as metric label values and warning text.
func (s Skips) ByReason() map[string]int {
	out := make(map[string]int, 4)
	if s.Unmapped > 0 {
		out["unmapped"] = s.Unmapped
	}
	if s.SchemaMismatch > 0 {
		out["schema_mismatch"] = s.SchemaMismatch
	}
	if s.Conversion > 0 {
		out["unit_conversion"] = s.Conversion
	}
	if s.OutOfRange > 0 {
		out["out_of_range"] = s.OutOfRange
	}
	return out
}

// Dominant returns the most frequent skip reason, or "" when nothing
// was skipped. Ties resolve to the first reason in label order.
func (s Skips) Dominant() string {
	best, n := "", 0
	for _, reason := range []string{"unmapped", "schema_mismatch", "unit_conversion", "out_of_range"} {
		if c := s.ByReason()[reason]; c > n {
			best, n = reason, c
		}
	}
	return best
}
