package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it when no observability output is wanted, or as the default when a
// component is constructed without an emitter.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
