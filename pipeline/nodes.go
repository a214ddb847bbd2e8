package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dshills/planforge/flow"
	"github.com/dshills/planforge/flow/call"
	"github.com/dshills/planforge/flow/model"
)

// Node identifiers. Validation routing targets name these directly.
const (
	NodeAnalyze   = "analyze"
	NodeClarify   = "clarify"
	NodeBlueprint = "blueprint"
	NodeSchema    = "schema"
	NodeContract  = "contract"
	NodeValidate  = "validate"
	NodeTasks     = "tasks"
	NodeScaffold  = "scaffold"
)

// Stages holds the shared dependencies of the pipeline nodes: the budgeted
// call adapter, the workspace, and the run-level limits. One Stages value
// serves one graph; it carries no per-run state.
type Stages struct {
	Calls     *call.Adapter
	Workspace Workspace

	// BudgetUSD is the run's cost ceiling, enforced by the call adapter
	// before every delegated call.
	BudgetUSD float64

	// MaxCycles is the validation cycle ceiling: the number of rework cycles
	// a run may spend before validation forces a pass with outstanding
	// issues retained.
	MaxCycles int
}

// invoke issues one delegated call for a stage and folds its usage and
// transcript into the delta. The returned delta already carries the
// accumulate fields; the caller adds the stage's replace fields.
func (s *Stages) invoke(ctx context.Context, nodeID, instruction string, doc Document) (map[string]interface{}, Document, error) {
	spec := call.Spec{
		Stage:       nodeID,
		Instruction: instruction,
		Context:     contextFor(doc, nodeID),
	}

	result, usage, err := s.Calls.Invoke(ctx, spec, doc.Ledger.CostUSD, s.BudgetUSD)
	if err != nil {
		return nil, Document{}, &flow.NodeError{
			Message: "delegated call failed",
			Code:    "CALL_FAILED",
			NodeID:  nodeID,
			Cause:   err,
		}
	}

	raw, _ := json.Marshal(result)
	delta := Document{
		Ledger: ledgerDelta(usage),
		Transcript: []model.Message{
			{Role: model.RoleUser, Content: spec.Context},
			{Role: model.RoleAssistant, Content: string(raw)},
		},
	}
	return result, delta, nil
}

// decodeInto re-marshals one key of a call result into a typed artifact.
func decodeInto(result map[string]interface{}, key string, dst any) error {
	raw, ok := result[key]
	if !ok {
		return fmt.Errorf("response is missing %q", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func stageErr(nodeID string, err error) flow.NodeResult[Document] {
	return flow.NodeResult[Document]{Err: &flow.NodeError{
		Message: err.Error(),
		Code:    "STAGE_FAILED",
		NodeID:  nodeID,
		Cause:   err,
	}}
}

// Analyze extracts requirements, entities, and optional clarification
// questions from the product idea.
func (s *Stages) Analyze(ctx context.Context, doc Document) flow.NodeResult[Document] {
	result, delta, err := s.invoke(ctx, NodeAnalyze, analyzeInstruction, doc)
	if err != nil {
		return flow.NodeResult[Document]{Err: err}
	}

	if err := decodeInto(result, "requirements", &delta.Requirements); err != nil {
		return stageErr(NodeAnalyze, err)
	}
	if err := decodeInto(result, "entities", &delta.Entities); err != nil {
		return stageErr(NodeAnalyze, err)
	}
	if _, ok := result["questions"]; ok {
		if err := decodeInto(result, "questions", &delta.Questions); err != nil {
			return stageErr(NodeAnalyze, err)
		}
	}
	delta.Status = "analyzed"
	return flow.NodeResult[Document]{Delta: delta}
}

// Clarify suspends the run when the analyst raised questions the requester
// has not answered yet. No delegated call is made; this node is pure
// bookkeeping around the human-in-the-loop boundary.
func (s *Stages) Clarify(ctx context.Context, doc Document) flow.NodeResult[Document] {
	answered := make(map[string]bool, len(doc.Answers))
	for _, qa := range doc.Answers {
		answered[qa.Question] = true
	}

	var open []string
	for _, q := range doc.Questions {
		if !answered[q] {
			open = append(open, q)
		}
	}
	if len(open) > 0 {
		return flow.NodeResult[Document]{
			Delta:     Document{Status: "awaiting-answers"},
			Questions: open,
		}
	}
	return flow.NodeResult[Document]{Delta: Document{Status: "clarified"}}
}

// DesignBlueprint produces the architecture blueprint.
func (s *Stages) DesignBlueprint(ctx context.Context, doc Document) flow.NodeResult[Document] {
	result, delta, err := s.invoke(ctx, NodeBlueprint, blueprintInstruction, doc)
	if err != nil {
		return flow.NodeResult[Document]{Err: err}
	}

	var bp Blueprint
	if err := decodeInto(result, "blueprint", &bp); err != nil {
		return stageErr(NodeBlueprint, err)
	}
	delta.Blueprint = &bp
	delta.Status = "blueprinted"
	return flow.NodeResult[Document]{Delta: delta}
}

// DesignSchema produces the storage structures.
func (s *Stages) DesignSchema(ctx context.Context, doc Document) flow.NodeResult[Document] {
	result, delta, err := s.invoke(ctx, NodeSchema, schemaInstruction, doc)
	if err != nil {
		return flow.NodeResult[Document]{Err: err}
	}

	if err := decodeInto(result, "tables", &delta.Tables); err != nil {
		return stageErr(NodeSchema, err)
	}
	delta.Status = "schema-designed"
	return flow.NodeResult[Document]{Delta: delta}
}

// DesignContract produces the interface contract.
func (s *Stages) DesignContract(ctx context.Context, doc Document) flow.NodeResult[Document] {
	result, delta, err := s.invoke(ctx, NodeContract, contractInstruction, doc)
	if err != nil {
		return flow.NodeResult[Document]{Err: err}
	}

	if err := decodeInto(result, "endpoints", &delta.Endpoints); err != nil {
		return stageErr(NodeContract, err)
	}
	delta.Status = "contracted"
	return flow.NodeResult[Document]{Delta: delta}
}

// Validate runs cross-validation over the accumulated artifacts. It is fully
// deterministic: same document, same report.
func (s *Stages) Validate(ctx context.Context, doc Document) flow.NodeResult[Document] {
	report := Evaluate(doc, doc.cycleCount(), s.MaxCycles)

	status := "validated"
	if !report.Passed {
		status = "rework"
	}
	return flow.NodeResult[Document]{Delta: Document{
		Validation: &report,
		Status:     status,
	}}
}

// Route decides where execution goes after validation: forward to task
// breakdown on a pass, backward to the defective stage otherwise.
func Route(doc Document) string {
	if doc.Validation == nil || doc.Validation.Passed {
		return NodeTasks
	}
	return doc.Validation.Target
}

// PlanTasks produces the implementation breakdown from the validated design.
func (s *Stages) PlanTasks(ctx context.Context, doc Document) flow.NodeResult[Document] {
	result, delta, err := s.invoke(ctx, NodeTasks, tasksInstruction, doc)
	if err != nil {
		return flow.NodeResult[Document]{Err: err}
	}

	if err := decodeInto(result, "tasks", &delta.Tasks); err != nil {
		return stageErr(NodeTasks, err)
	}
	delta.Status = "planned"
	return flow.NodeResult[Document]{Delta: delta}
}

// Scaffold materializes the design into a workspace: one file per artifact,
// then a labeled snapshot so later edits can roll back to the design
// baseline.
func (s *Stages) Scaffold(ctx context.Context, doc Document) flow.NodeResult[Document] {
	wsID := doc.WorkspaceID
	if wsID == "" {
		id, err := s.Workspace.Create(ctx, "planforge")
		if err != nil {
			return stageErr(NodeScaffold, fmt.Errorf("create workspace: %w", err))
		}
		wsID = id
	}

	if health, err := s.Workspace.Health(ctx, wsID); err != nil || !health.OK {
		if err == nil {
			err = fmt.Errorf("workspace unhealthy: %v", health.Reasons)
		}
		return stageErr(NodeScaffold, err)
	}

	files := []struct {
		path string
		kind string
		v    any
	}{
		{"design/requirements.json", "requirements", doc.Requirements},
		{"design/blueprint.json", "blueprint", doc.Blueprint},
		{"design/schema.json", "schema", doc.Tables},
		{"design/contract.json", "contract", doc.Endpoints},
		{"design/tasks.json", "tasks", doc.Tasks},
		{"design/validation.json", "validation", doc.Validation},
	}

	var artifacts []Artifact
	for _, f := range files {
		data, err := json.MarshalIndent(f.v, "", "  ")
		if err != nil {
			return stageErr(NodeScaffold, err)
		}
		if err := s.Workspace.WriteFile(ctx, wsID, f.path, data); err != nil {
			return stageErr(NodeScaffold, fmt.Errorf("write %s: %w", f.path, err))
		}
		artifacts = append(artifacts, Artifact{Path: f.path, Kind: f.kind, Stage: NodeScaffold})
	}

	if err := s.Workspace.Snapshot(ctx, wsID, "design-baseline"); err != nil {
		return stageErr(NodeScaffold, fmt.Errorf("snapshot: %w", err))
	}

	return flow.NodeResult[Document]{Delta: Document{
		WorkspaceID: wsID,
		Artifacts:   artifacts,
		Status:      "scaffolded",
	}}
}
