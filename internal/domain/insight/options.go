package insight

import "time"

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRules replaces the engine's rule set.
func WithRules(rules []Rule) Option {
	return func(e *Engine) {
		if len(rules) > 0 {
			e.rules = rules
		}
	}
}

// WithBudget bounds one evaluation cycle.
func WithBudget(budget time.Duration) Option {
	return func(e *Engine) {
		if budget > 0 {
			e.budget = budget
		}
	}
}

// WithClock sets the time source used for window anchoring.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}
