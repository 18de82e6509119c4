package pipeline

import "errors"

// Sentinel kinds for pipeline errors.
var (
	// ErrNothingPersisted marks an attempt that parsed the export but
	// ended with zero canonical records written.
	ErrNothingPersisted = errors.New("no records persisted")

	// ErrStorage wraps store failures that re-queued the job, the only
	// failure class worth retrying.
	ErrStorage = errors.New("storage failure")

	// ErrIllegalTransition guards the job state machine.
	ErrIllegalTransition = errors.New("illegal job state transition")
)
