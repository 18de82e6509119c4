package pipeline

// Option applies a configuration option to the Pipeline.
type Option func(*Pipeline)

// WithMaxAttempts sets how many times a job may execute before a
// storage failure becomes terminal.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithTimezone sets the IANA zone assumed for exports whose timestamps
// carry no offset of their own.
func WithTimezone(tz string) Option {
	return func(p *Pipeline) {
		if tz != "" {
			p.timezone = tz
		}
	}
}
