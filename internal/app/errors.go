package service

import "errors"

// Sentinel kinds for service errors.
var (
	// ErrNotStarted reports a call made before Start.
	ErrNotStarted = errors.New("service not started")

	// ErrDuplicateSubmission reports an export whose content is already
	// being ingested for the same user.
	ErrDuplicateSubmission = errors.New("duplicate submission")
)
