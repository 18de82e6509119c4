package model

import "time"

// Snapshot is a point-in-time read of several metric series for one
// user, taken in a single transaction so evaluation computes over a
// consistent view while ingestion keeps appending.
type Snapshot struct {
	UserID  string
	From    time.Time
	To      time.Time
	TakenAt time.Time
	Series  map[MetricType][]Record
}

// SeriesFor returns the snapshot's records for one metric, ordered by
// timestamp. Missing metrics yield an empty series.
func (s Snapshot) SeriesFor(metric MetricType) []Record {
	return s.Series[metric]
}
