package ingest

import "errors"

// Sentinel kinds for ingest errors.
var (
	// ErrUnsupportedFormat marks a file whose envelope no adapter
	// recognizes. It is fatal at the file level and never retried.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
