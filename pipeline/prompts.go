package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage instructions. Every instruction demands a bare JSON object so the
// call adapter can parse the response structurally.

const analyzeInstruction = `You are a product analyst. Read the product idea and extract
requirements and domain entities. Respond with a JSON object only, no prose:
{
  "requirements": [{"id": "R1", "title": "...", "detail": "..."}],
  "entities": [{"name": "...", "description": "..."}],
  "questions": ["optional clarification questions for the requester"]
}
Ask questions only when the idea is genuinely ambiguous.`

const blueprintInstruction = `You are a software architect. Design the system architecture for
the analyzed requirements. Respond with a JSON object only:
{
  "blueprint": {
    "summary": "...",
    "components": [{"name": "...", "role": "...", "depends_on": ["..."]}]
  }
}`

const schemaInstruction = `You are a data modeler. Design storage structures covering every
domain entity. Respond with a JSON object only:
{
  "tables": [{
    "name": "...",
    "entity": "the entity this structure realizes",
    "protected": false,
    "columns": [{"name": "...", "type": "...", "references": "other_table.column"}]
  }]
}
Every entity must map to a structure. References must name structures and
columns that exist in your answer. Mark structures holding user-owned rows as
protected.`

const contractInstruction = `You are an API designer. Design the interface contract over the
storage structures. Respond with a JSON object only:
{
  "endpoints": [{
    "method": "GET",
    "path": "/...",
    "access": "public or auth",
    "reads": ["table names this endpoint reads"],
    "writes": ["table names this endpoint writes"],
    "description": "..."
  }]
}
Reads and writes must name structures that exist. Writes to protected
structures require auth access.`

const tasksInstruction = `You are a tech lead. Break the validated design into ordered
implementation tasks. Respond with a JSON object only:
{
  "tasks": [{"id": "T1", "title": "...", "component": "...", "depends_on": ["..."], "paths": ["..."]}]
}`

// contextFor assembles the user-level payload for a stage from the artifacts
// it consumes, plus any outstanding validation issues targeting that stage so
// a rework pass knows what to fix.
func contextFor(doc Document, nodeID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Product idea:\n%s\n", doc.Idea)

	if len(doc.Answers) > 0 {
		b.WriteString("\nClarifications from the requester:\n")
		for _, qa := range doc.Answers {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", qa.Question, qa.Answer)
		}
	}

	switch nodeID {
	case NodeBlueprint:
		writeSection(&b, "Requirements", doc.Requirements)
		writeSection(&b, "Entities", doc.Entities)
	case NodeSchema:
		writeSection(&b, "Entities", doc.Entities)
		writeSection(&b, "Blueprint", doc.Blueprint)
	case NodeContract:
		writeSection(&b, "Requirements", doc.Requirements)
		writeSection(&b, "Storage structures", doc.Tables)
	case NodeTasks:
		writeSection(&b, "Blueprint", doc.Blueprint)
		writeSection(&b, "Storage structures", doc.Tables)
		writeSection(&b, "Endpoints", doc.Endpoints)
	}

	if issues := issuesFor(doc, nodeID); len(issues) > 0 {
		b.WriteString("\nA validation pass found defects in your previous output. Fix them:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- [%s] %s\n", issue.Kind, issue.Detail)
		}
	}

	return b.String()
}

// issuesFor returns outstanding validation issues targeting a node.
func issuesFor(doc Document, nodeID string) []Issue {
	if doc.Validation == nil {
		return nil
	}
	var out []Issue
	for _, issue := range doc.Validation.Issues {
		if issue.Target == nodeID {
			out = append(out, issue)
		}
	}
	return out
}

func writeSection(b *strings.Builder, title string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(b, "\n%s:\n%s\n", title, data)
}
