package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_Text(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{
		RunID:  "run-001",
		Step:   3,
		NodeID: "schema",
		Msg:    "node completed",
		Meta:   map[string]interface{}{"next": "contract"},
	})

	line := buf.String()
	for _, want := range []string{"[node completed]", "runID=run-001", "step=3", "nodeID=schema", `"next":"contract"`} {
		if !strings.Contains(line, want) {
			t.Errorf("text output missing %q: %s", want, line)
		}
	}
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{RunID: "run-001", Step: 1, NodeID: "analyze", Msg: "node completed"})
	emitter.Emit(Event{RunID: "run-001", Step: 1, NodeID: "analyze", Msg: "run suspended",
		Meta: map[string]interface{}{"questions": 2}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}

	var decoded struct {
		RunID string                 `json:"runID"`
		Msg   string                 `json:"msg"`
		Meta  map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded.Msg != "run suspended" || decoded.RunID != "run-001" {
		t.Errorf("unexpected decoded event: %+v", decoded)
	}
	if decoded.Meta["questions"] != float64(2) {
		t.Errorf("meta lost: %+v", decoded.Meta)
	}
}

func TestNullEmitter(t *testing.T) {
	// Must tolerate any event without output or panic.
	NewNullEmitter().Emit(Event{Msg: "node failed", Meta: map[string]interface{}{"error": "x"}})
}
