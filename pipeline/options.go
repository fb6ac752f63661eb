package pipeline

import "github.com/dshills/chatpipe/pipeline/emit"

// Option configures a Runner.
//
// Example:
//
//	r := pipeline.NewRunner(stages, run,
//	    pipeline.WithEmitter(emit.NewLogEmitter(os.Stderr, false)),
//	    pipeline.WithPoolConcurrency(8),
//	)
type Option func(*Runner)

// WithEmitter sets the emitter receiving step and pool events.
// Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(r *Runner) {
		r.emitter = emit.Or(e)
	}
}

// WithMetrics enables Prometheus metrics for steps, cache lookups and pools.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithPoolConcurrency sets the default worker count handed to steps through
// StepContext.Pool. Values <= 0 keep DefaultPoolConcurrency.
func WithPoolConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.poolConcurrency = n
		}
	}
}

// WithInvocationID overrides the generated identifier attached to every
// event emitted by the runner. Empty values are ignored.
func WithInvocationID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.invocationID = id
		}
	}
}
