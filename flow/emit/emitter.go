// Package emit provides observability events for pipeline execution.
package emit

// Emitter receives observability events from pipeline execution.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files (LogEmitter)
//   - Distributed tracing: OpenTelemetry (OTelEmitter)
//   - Nothing: NullEmitter
//
// Implementations should be non-blocking, safe for concurrent use, and
// resilient: Emit must never panic or fail the run.
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}
