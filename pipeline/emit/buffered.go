package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are organized by RunID. Useful for tests and for post-execution
// inspection of what the runner, store and pool did.
//
// Warning: all events are kept in memory until Clear is called.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	runner := pipeline.NewRunner(stages, run, pipeline.WithEmitter(emitter))
//	_, _ = runner.Run(ctx, "scan")
//	cached := emitter.GetHistoryWithFilter(run.ID, emit.HistoryFilter{Msg: emit.MsgStepCached})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering execution history.
// Empty fields match everything; set fields are combined with AND logic.
type HistoryFilter struct {
	Step string // Filter by step name (empty = no filter)
	Msg  string // Filter by message (empty = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of all events for runID in emission order.
// Returns an empty slice if no events exist for runID.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns a copy of the events for runID that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if filter.Step != "" && event.Step != filter.Step {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Count returns the number of events for runID with the given message.
func (b *BufferedEmitter) Count(runID, msg string) int {
	return len(b.GetHistoryWithFilter(runID, HistoryFilter{Msg: msg}))
}

// Clear removes stored events for runID, or all events when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
