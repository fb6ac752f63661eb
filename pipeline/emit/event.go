package emit

// Event represents an observability event emitted during pipeline execution.
//
// Events are emitted by the step runner (step start/end/cached/error), by the
// stage store (run creation, stage reads and writes) and by the worker pool
// (pool start/end, task failures).
type Event struct {
	// RunID identifies the stage-store run the event belongs to.
	// Empty for events emitted before a run is resolved.
	RunID string

	// Step is the name of the step that emitted this event.
	// Empty for store-level or pool-level events outside a step.
	Step string

	// Msg is the event name, e.g. "step_start", "step_cached", "task_error".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": error text
	//   - "stage": stage name for store events
	//   - "recoverable": true when an error was absorbed (e.g. corrupt cache entry)
	//   - "invocation_id": runner instance identifier
	Meta map[string]interface{}
}

// Message names emitted by the pipeline packages.
const (
	MsgRunCreated     = "run_created"
	MsgRunReused      = "run_reused"
	MsgStageWrite     = "stage_write"
	MsgStageReadError = "stage_read_error"
	MsgStepStart      = "step_start"
	MsgStepCached     = "step_cached"
	MsgStepEnd        = "step_end"
	MsgStepError      = "step_error"
	MsgPoolStart      = "pool_start"
	MsgPoolEnd        = "pool_end"
	MsgPoolStopped    = "pool_stopped"
	MsgTaskError      = "task_error"
)

// ErrorText returns the "error" meta value, or "" when the event carries no error.
func (e Event) ErrorText() string {
	if e.Meta == nil {
		return ""
	}
	switch v := e.Meta["error"].(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return ""
	}
}

// Recoverable reports whether the event describes an error the pipeline absorbed.
func (e Event) Recoverable() bool {
	if e.Meta == nil {
		return false
	}
	r, _ := e.Meta["recoverable"].(bool)
	return r
}
