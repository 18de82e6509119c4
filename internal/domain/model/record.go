package model

import (
	"errors"
	"strings"
	"time"
)

// Record is one canonical metric observation. Records are immutable
// once persisted and uniquely identified by Key; re-ingesting the same
// key overwrites rather than duplicates.
type Record struct {
	UserID     string     // owning user
	Metric     MetricType // canonical metric type
	Value      float64    // value in the metric's canonical unit
	Unit       string     // canonical unit, denormalized for readers
	Timestamp  time.Time  // UTC instant of the observation
	Provider   Provider   // originating system
	SourceHash string     // sha256 of the source file, hex
}

// RecordKey is the natural key of a Record. Two providers reporting
// the same metric at the same instant produce two distinct keys.
type RecordKey struct {
	UserID    string
	Metric    MetricType
	Timestamp time.Time
	Provider  Provider
}

// Key returns the record's natural key with the timestamp in UTC.
func (r Record) Key() RecordKey {
	return RecordKey{
		UserID:    r.UserID,
		Metric:    r.Metric,
		Timestamp: r.Timestamp.UTC(),
		Provider:  r.Provider,
	}
}

// Validate reports the first structural problem with the record.
func (r Record) Validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return errors.New("missing user_id")
	case !IsValidMetricType(r.Metric):
		return errors.New("unknown metric type: " + string(r.Metric))
	case r.Timestamp.IsZero():
		return errors.New("missing timestamp")
	case !IsValidProvider(r.Provider):
		return errors.New("unknown provider: " + string(r.Provider))
	}
	return nil
}

// Profile carries the per-user settings canonicalization needs.
type Profile struct {
	UserID   string
	Timezone string // IANA zone used when a provider declares no offset
}

// Location resolves the profile timezone, falling back to UTC when the
// zone is empty or unknown.
func (p Profile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
