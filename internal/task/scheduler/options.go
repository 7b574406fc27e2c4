package scheduler

import "time"

type Option func(*Runner)

// WithHooks installs the diagnostic hooks.
func WithHooks(h Hooks) Option {
	return func(r *Runner) { r.hooks = h }
}

// WithErrorInterval sets the minimum spacing between logged registration
// failures. Failures in between are counted and reported with the next log line.
func WithErrorInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.errEvery = d
		}
	}
}
