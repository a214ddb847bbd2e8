// Package pipeline implements the design pipeline: the typed state document,
// the reducer that accumulates stage output into it, the cross-validation
// engine that routes execution backward on defects, and the stage nodes that
// produce each artifact.
package pipeline

import (
	"fmt"

	"github.com/dshills/planforge/flow"
	"github.com/dshills/planforge/flow/call"
	"github.com/dshills/planforge/flow/model"
)

// Document is the accumulated state of one pipeline run. Every node receives
// a deep copy and returns a partial Document delta; Reduce folds the delta
// into the accumulated value.
//
// Merge disciplines per field:
//
//   - Replace fields hold the current best version of an artifact. A zero or
//     nil incoming value is a no-op, so nodes set only what they changed.
//   - Accumulate fields only grow across a run: the transcript appends, the
//     ledger sums, answers and produced artifacts upsert by key.
type Document struct {
	// Replace.
	Idea         string        `json:"idea,omitempty"`
	Status       string        `json:"status,omitempty"`
	WorkspaceID  string        `json:"workspace_id,omitempty"`
	Questions    []string      `json:"questions,omitempty"`
	Requirements []Requirement `json:"requirements,omitempty"`
	Entities     []Entity      `json:"entities,omitempty"`
	Blueprint    *Blueprint    `json:"blueprint,omitempty"`
	Tables       []Table       `json:"tables,omitempty"`
	Endpoints    []Endpoint    `json:"endpoints,omitempty"`
	Tasks        []Task        `json:"tasks,omitempty"`
	Validation   *Report       `json:"validation,omitempty"`

	// Accumulate.
	Answers    []QA            `json:"answers,omitempty"`
	Transcript []model.Message `json:"transcript,omitempty"`
	Ledger     Ledger          `json:"ledger"`
	Artifacts  []Artifact      `json:"artifacts,omitempty"`
}

// Ledger is the accumulating usage record of a run. Counters only grow; the
// call log appends in order.
type Ledger struct {
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CostUSD      float64       `json:"cost_usd"`
	Calls        []call.Record `json:"calls,omitempty"`
}

// add folds a usage delta into the ledger.
func (l Ledger) add(in Ledger) Ledger {
	return Ledger{
		InputTokens:  l.InputTokens + in.InputTokens,
		OutputTokens: l.OutputTokens + in.OutputTokens,
		CostUSD:      l.CostUSD + in.CostUSD,
		Calls:        flow.AppendSeq(l.Calls, in.Calls),
	}
}

// ledgerDelta converts one adapter usage result into a ledger increment.
func ledgerDelta(u call.Usage) Ledger {
	return Ledger{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      u.CostUSD,
		Calls:        u.Calls,
	}
}

// NewDocument builds the initial state for a fresh run.
func NewDocument(idea string) Document {
	return Document{
		Idea:   idea,
		Status: "new",
	}
}

// Reduce merges a node's partial delta into the accumulated document. It is
// the single reducer for the pipeline graph: pure, never mutating prev.
func Reduce(prev, delta Document) Document {
	next := prev

	next.Idea = flow.ReplaceZero(prev.Idea, delta.Idea)
	next.Status = flow.ReplaceZero(prev.Status, delta.Status)
	next.WorkspaceID = flow.ReplaceZero(prev.WorkspaceID, delta.WorkspaceID)
	next.Questions = flow.ReplaceSlice(prev.Questions, delta.Questions)
	next.Requirements = flow.ReplaceSlice(prev.Requirements, delta.Requirements)
	next.Entities = flow.ReplaceSlice(prev.Entities, delta.Entities)
	next.Blueprint = flow.Replace(prev.Blueprint, delta.Blueprint)
	next.Tables = flow.ReplaceSlice(prev.Tables, delta.Tables)
	next.Endpoints = flow.ReplaceSlice(prev.Endpoints, delta.Endpoints)
	next.Tasks = flow.ReplaceSlice(prev.Tasks, delta.Tasks)
	next.Validation = flow.Replace(prev.Validation, delta.Validation)

	next.Answers = flow.UpsertByKey(prev.Answers, delta.Answers, func(q QA) string { return q.Question })
	next.Transcript = flow.AppendSeq(prev.Transcript, delta.Transcript)
	next.Ledger = prev.Ledger.add(delta.Ledger)
	next.Artifacts = flow.UpsertByKey(prev.Artifacts, delta.Artifacts, func(a Artifact) string { return a.Path })

	return next
}

// fieldResets maps field names to reset actions. Accumulate fields may only
// shrink through an explicit reset at run initialization, never through a
// merge.
var fieldResets = map[string]func(*Document){
	"idea":         func(d *Document) { d.Idea = "" },
	"status":       func(d *Document) { d.Status = "" },
	"workspace_id": func(d *Document) { d.WorkspaceID = "" },
	"questions":    func(d *Document) { d.Questions = nil },
	"requirements": func(d *Document) { d.Requirements = nil },
	"entities":     func(d *Document) { d.Entities = nil },
	"blueprint":    func(d *Document) { d.Blueprint = nil },
	"tables":       func(d *Document) { d.Tables = nil },
	"endpoints":    func(d *Document) { d.Endpoints = nil },
	"tasks":        func(d *Document) { d.Tasks = nil },
	"validation":   func(d *Document) { d.Validation = nil },
	"answers":      func(d *Document) { d.Answers = nil },
	"transcript":   func(d *Document) { d.Transcript = nil },
	"ledger":       func(d *Document) { d.Ledger = Ledger{} },
	"artifacts":    func(d *Document) { d.Artifacts = nil },
}

// ResetFields clears named fields back to their initial value, returning a
// fresh document. An unknown field name is a programming error and panics.
func ResetFields(doc Document, fields ...string) Document {
	for _, f := range fields {
		reset, ok := fieldResets[f]
		if !ok {
			panic(fmt.Sprintf("pipeline: reset of unknown document field %q", f))
		}
		reset(&doc)
	}
	return doc
}
