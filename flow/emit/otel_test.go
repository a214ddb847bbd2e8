package emit

import (
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelEmitter(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	emitter := NewOTelEmitter(provider.Tracer("test"))

	t.Run("event becomes a span with attributes", func(t *testing.T) {
		emitter.Emit(Event{
			RunID:  "run-001",
			Step:   2,
			NodeID: "validate",
			Msg:    "node completed",
			Meta:   map[string]interface{}{"next": "tasks", "cost_usd": 0.12},
		})

		spans := recorder.Ended()
		if len(spans) != 1 {
			t.Fatalf("expected 1 span, got %d", len(spans))
		}
		span := spans[0]
		if span.Name() != "node completed" {
			t.Errorf("expected span name from msg, got %q", span.Name())
		}

		attrs := make(map[string]interface{})
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		if attrs["run_id"] != "run-001" || attrs["node_id"] != "validate" {
			t.Errorf("missing identity attributes: %v", attrs)
		}
		if attrs["next"] != "tasks" {
			t.Errorf("meta not propagated: %v", attrs)
		}
	})

	t.Run("error meta sets error status", func(t *testing.T) {
		emitter.Emit(Event{
			RunID: "run-001", Step: 3, NodeID: "schema",
			Msg:  "node failed",
			Meta: map[string]interface{}{"error": "boom"},
		})

		spans := recorder.Ended()
		span := spans[len(spans)-1]
		if span.Status().Code != codes.Error {
			t.Errorf("expected error status, got %v", span.Status())
		}
	})
}
