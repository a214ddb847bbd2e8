package emit

// Event is an observability event emitted during pipeline execution.
//
// The engine emits events for node completion and failure, suspension,
// resumption, and run completion. Nodes and the call adapter may emit their
// own through the same channel.
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Step is the sequential step number (1-indexed). Zero for run-level
	// events.
	Step int

	// NodeID identifies which node the event concerns. Empty for run-level
	// events.
	NodeID string

	// Msg is a short human-readable description, e.g. "node completed".
	Msg string

	// Meta holds additional structured data. Common keys: "next", "error",
	// "questions", "tokens", "cost_usd", "attempts".
	Meta map[string]interface{}
}
