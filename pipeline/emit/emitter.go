// Package emit provides event emission and observability for pipeline execution.
package emit

// Emitter receives and processes observability events from pipeline execution.
//
// Emitters enable pluggable observability backends:
//   - Logging: text or JSON lines, clue structured logs
//   - Distributed tracing: OpenTelemetry
//   - Testing: in-memory buffers
//
// Implementations should be:
//   - Non-blocking: avoid slowing down steps and pool workers
//   - Thread-safe: pool workers and concurrent steps emit simultaneously
//   - Resilient: never panic, never fail the pipeline
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}

// Or returns e, or a NullEmitter when e is nil.
func Or(e Emitter) Emitter {
	if e == nil {
		return NewNullEmitter()
	}
	return e
}
