package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/planforge/flow"
	"github.com/dshills/planforge/flow/call"
	"github.com/dshills/planforge/flow/model"
	"github.com/dshills/planforge/flow/store"
)

const analyzeResponse = `{
	"requirements": [{"id": "R1", "title": "track tasks"}],
	"entities": [{"name": "User"}, {"name": "Task"}]
}`

const analyzeWithQuestionsResponse = `{
	"requirements": [{"id": "R1", "title": "track tasks"}],
	"entities": [{"name": "User"}, {"name": "Task"}],
	"questions": ["single user or teams?"]
}`

const blueprintResponse = `{
	"blueprint": {"summary": "api over a task store", "components": [{"name": "api"}]}
}`

const schemaResponse = `{
	"tables": [
		{"name": "users", "entity": "User", "protected": true,
		 "columns": [{"name": "id", "type": "uuid"}]},
		{"name": "tasks", "entity": "Task",
		 "columns": [{"name": "id", "type": "uuid"},
		             {"name": "owner_id", "type": "uuid", "references": "users.id"}]}
	]
}`

// schemaMissingTaskResponse omits the Task entity's structure, which
// cross-validation must catch.
const schemaMissingTaskResponse = `{
	"tables": [
		{"name": "users", "entity": "User", "protected": true,
		 "columns": [{"name": "id", "type": "uuid"}]}
	]
}`

const contractResponse = `{
	"endpoints": [
		{"method": "GET", "path": "/tasks", "access": "public", "reads": ["tasks"]},
		{"method": "POST", "path": "/tasks", "access": "auth", "writes": ["tasks"]},
		{"method": "POST", "path": "/users", "access": "auth", "writes": ["users"]}
	]
}`

const tasksResponse = `{
	"tasks": [{"id": "T1", "title": "build the api", "component": "api"}]
}`

func outs(texts ...string) []model.ChatOut {
	var result []model.ChatOut
	for _, text := range texts {
		result = append(result, model.ChatOut{
			Text:  text,
			Usage: model.Usage{InputTokens: 1000, OutputTokens: 500},
		})
	}
	return result
}

type testPipeline struct {
	engine *flow.Engine[Document]
	mock   *model.MockChatModel
	store  *store.MemStore[Document]
}

func newTestPipeline(t *testing.T, responses []model.ChatOut, budgetUSD float64, maxCycles int) *testPipeline {
	t.Helper()

	mock := &model.MockChatModel{Responses: responses}
	ws, err := NewLocalWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalWorkspace: %v", err)
	}

	stages := &Stages{
		Calls:     call.New(mock, "claude-3-5-sonnet-20241022"),
		Workspace: ws,
		BudgetUSD: budgetUSD,
		MaxCycles: maxCycles,
	}
	st := store.NewMemStore[Document]()
	engine, err := Build(stages, st, nil, flow.Options{MaxSteps: 50})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return &testPipeline{engine: engine, mock: mock, store: st}
}

func TestPipeline_CleanRun(t *testing.T) {
	tp := newTestPipeline(t, outs(
		analyzeResponse,
		blueprintResponse,
		schemaResponse,
		contractResponse,
		tasksResponse,
	), 2.00, 2)

	doc, err := tp.engine.Run(context.Background(), "run-clean", NewDocument("a task tracker"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if doc.Status != "scaffolded" {
		t.Errorf("expected scaffolded, got %q", doc.Status)
	}
	if doc.Validation == nil || !doc.Validation.Passed || doc.Validation.Forced {
		t.Errorf("expected clean validation pass, got %+v", doc.Validation)
	}
	if len(doc.Tasks) != 1 {
		t.Errorf("expected task breakdown, got %v", doc.Tasks)
	}
	if tp.mock.CallCount() != 5 {
		t.Errorf("expected 5 delegated calls, got %d", tp.mock.CallCount())
	}

	t.Run("ledger accumulated one delta per call", func(t *testing.T) {
		if len(doc.Ledger.Calls) != 5 {
			t.Errorf("expected 5 ledger records, got %d", len(doc.Ledger.Calls))
		}
		if doc.Ledger.InputTokens != 5000 || doc.Ledger.OutputTokens != 2500 {
			t.Errorf("unexpected token totals: %+v", doc.Ledger)
		}
	})

	t.Run("workspace artifacts registered", func(t *testing.T) {
		if doc.WorkspaceID == "" {
			t.Fatal("no workspace created")
		}
		if len(doc.Artifacts) != 6 {
			t.Errorf("expected 6 artifacts, got %d: %v", len(doc.Artifacts), doc.Artifacts)
		}
	})

	t.Run("final checkpoint marks completion", func(t *testing.T) {
		cp, err := tp.store.LoadLatest(context.Background(), "run-clean")
		if err != nil {
			t.Fatalf("LoadLatest: %v", err)
		}
		if cp.NodeID != flow.End {
			t.Errorf("expected End checkpoint, got %q", cp.NodeID)
		}
	})
}

func TestPipeline_ValidationCycle(t *testing.T) {
	// The first schema pass omits the Task structure; validation routes back
	// to schema, which then produces a complete answer.
	tp := newTestPipeline(t, outs(
		analyzeResponse,
		blueprintResponse,
		schemaMissingTaskResponse,
		contractResponse,
		schemaResponse,
		contractResponse,
		tasksResponse,
	), 2.00, 3)

	doc, err := tp.engine.Run(context.Background(), "run-cycle", NewDocument("a task tracker"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if doc.Validation == nil || !doc.Validation.Passed {
		t.Fatalf("expected eventual pass, got %+v", doc.Validation)
	}
	if doc.Validation.Forced {
		t.Error("pass should be earned, not forced")
	}
	if doc.Validation.Cycles != 2 {
		t.Errorf("expected 2 validation cycles, got %d", doc.Validation.Cycles)
	}
	if tp.mock.CallCount() != 7 {
		t.Errorf("expected 7 delegated calls across the rework cycle, got %d", tp.mock.CallCount())
	}
	if len(doc.Tables) != 2 {
		t.Errorf("rework did not replace the schema: %v", doc.Tables)
	}

	t.Run("rework prompt carries the validation issues", func(t *testing.T) {
		// Call index 4 is the second schema pass.
		messages := tp.mock.Calls[4]
		user := messages[len(messages)-1].Content
		if !containsAll(user, "missing-structure", "Task") {
			t.Errorf("rework prompt missing defect context:\n%s", user)
		}
	})
}

func TestPipeline_ForcedPassAfterMaxCycles(t *testing.T) {
	// Schema never produces the Task structure; with MaxCycles 2 the run
	// gets two full rework cycles, then the third validation pass is forced
	// and the run completes with issues retained.
	tp := newTestPipeline(t, outs(
		analyzeResponse,
		blueprintResponse,
		schemaMissingTaskResponse,
		contractResponse,
		schemaMissingTaskResponse,
		contractResponse,
		schemaMissingTaskResponse,
		contractResponse,
		tasksResponse,
	), 2.00, 2)

	doc, err := tp.engine.Run(context.Background(), "run-forced", NewDocument("a task tracker"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if doc.Validation == nil || !doc.Validation.Passed || !doc.Validation.Forced {
		t.Fatalf("expected forced pass, got %+v", doc.Validation)
	}
	if doc.Validation.Cycles != 3 {
		t.Errorf("expected the ceiling to fire on the third validation pass, got %d", doc.Validation.Cycles)
	}
	if len(doc.Validation.Issues) == 0 {
		t.Error("forced pass lost the outstanding issues")
	}
	if tp.mock.CallCount() != 9 {
		t.Errorf("expected 9 delegated calls across two rework cycles, got %d", tp.mock.CallCount())
	}
	if doc.Status != "scaffolded" {
		t.Errorf("forced pass should still complete the run, got %q", doc.Status)
	}
}

func TestPipeline_SuspendAndResume(t *testing.T) {
	tp := newTestPipeline(t, outs(
		analyzeWithQuestionsResponse,
		blueprintResponse,
		schemaResponse,
		contractResponse,
		tasksResponse,
	), 2.00, 2)

	_, err := tp.engine.Run(context.Background(), "run-hitl", NewDocument("a task tracker"))
	var await *flow.AwaitInputError
	if !errors.As(err, &await) {
		t.Fatalf("expected suspension, got %v", err)
	}
	if await.NodeID != NodeClarify || len(await.Questions) != 1 {
		t.Fatalf("unexpected suspension point: %+v", await)
	}

	answers := Document{Answers: []QA{{Question: "single user or teams?", Answer: "teams"}}}
	doc, err := tp.engine.Run(context.Background(), "run-hitl", answers)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if doc.Status != "scaffolded" {
		t.Errorf("resumed run did not complete: %q", doc.Status)
	}

	t.Run("answer reaches downstream prompts", func(t *testing.T) {
		// Call index 1 is the blueprint call issued after resumption.
		messages := tp.mock.Calls[1]
		user := messages[len(messages)-1].Content
		if !containsAll(user, "single user or teams?", "teams") {
			t.Errorf("blueprint prompt missing the clarification:\n%s", user)
		}
	})
}

func TestPipeline_BudgetExhaustion(t *testing.T) {
	// Each call costs 1000 in / 500 out tokens of claude-3-5-sonnet, about
	// $0.0105. A ceiling below two calls stops the pipeline at blueprint.
	tp := newTestPipeline(t, outs(
		analyzeResponse,
		blueprintResponse,
	), 0.01, 2)

	_, err := tp.engine.Run(context.Background(), "run-broke", NewDocument("a task tracker"))
	var budgetErr *call.BudgetError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected BudgetError, got %v", err)
	}
	if tp.mock.CallCount() != 1 {
		t.Errorf("expected exactly one call before the ceiling, got %d", tp.mock.CallCount())
	}

	t.Run("checkpoint survives for a raised ceiling", func(t *testing.T) {
		cp, err := tp.store.LoadLatest(context.Background(), "run-broke")
		if err != nil {
			t.Fatalf("LoadLatest: %v", err)
		}
		if cp.NodeID != NodeBlueprint {
			t.Errorf("expected resume point blueprint, got %q", cp.NodeID)
		}
		if len(cp.State.Requirements) == 0 {
			t.Error("analyzed requirements lost from checkpoint")
		}
	})
}

func TestPipeline_MalformedOutputAborts(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "I'd rather chat about the weather"}}}
	ws, err := NewLocalWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalWorkspace: %v", err)
	}
	stages := &Stages{
		Calls:     call.New(mock, "claude-3-5-sonnet-20241022"),
		Workspace: ws,
		BudgetUSD: 2.00,
		MaxCycles: 2,
	}
	engine, err := Build(stages, store.NewMemStore[Document](), nil, flow.Options{MaxSteps: 50})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	_, err = engine.Run(context.Background(), "run-garbage", NewDocument("a task tracker"))
	var outErr *call.OutputError
	if !errors.As(err, &outErr) {
		t.Fatalf("expected OutputError after exhausted retries, got %v", err)
	}
	if mock.CallCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", mock.CallCount())
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
