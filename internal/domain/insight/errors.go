package insight

import "errors"

// Sentinel kinds for insight engine errors.
var (
	// ErrBudgetExceeded reports a cycle stopped by its execution
	// budget. Rules finished before the deadline keep their published
	// results; the interrupted rule leaves nothing behind.
	ErrBudgetExceeded = errors.New("insight budget exceeded")

	// ErrLoadRules reports an unreadable or invalid rules file.
	ErrLoadRules = errors.New("failed to load insight rules")
)
