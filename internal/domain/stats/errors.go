package stats

import "errors"

// Sentinel kinds for statistics errors.
var (
	// ErrInsufficientData reports a window without enough usable
	// samples to compute a stable statistic.
	ErrInsufficientData = errors.New("insufficient data")
)
