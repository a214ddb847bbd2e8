package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use when event output is not desired:
//
//	eng := flow.New(reduce, st, emit.NewNullEmitter(), opts)
type NullEmitter struct{}

// NewNullEmitter creates an emitter that drops every event.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
