package pipeline

import (
	"fmt"
	"strings"
)

// Validation issue kinds, ordered from coarse to fine. Checks run in this
// order so that a missing prerequisite surfaces as the coarser issue rather
// than a cascade of reference failures.
const (
	IssueMissingArtifact       = "missing-artifact"
	IssueMissingStructure      = "missing-structure"
	IssueInvalidReference      = "invalid-reference"
	IssueUnresolvedEndpointRef = "unresolved-endpoint-ref"
	IssueAccessMismatch        = "access-mismatch"
	IssueOrphanStructure       = "orphan-structure"
)

// Issue severities. Errors force a rework cycle; warnings only vote on a
// rework target and never block alone once the cycle ceiling is reached.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one defect found by cross-validation. Target names the node that
// should rework the defect.
type Issue struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Subject  string `json:"subject"`
	Detail   string `json:"detail"`
	Target   string `json:"target"`
}

// Report is the outcome of one validation pass.
type Report struct {
	// Passed reports whether the pipeline may proceed forward.
	Passed bool `json:"passed"`

	// Forced is set when Passed was granted because the cycle ceiling was
	// reached with unresolved issues still present.
	Forced bool `json:"forced,omitempty"`

	// Target is the node to route back to when Passed is false.
	Target string `json:"target,omitempty"`

	// Cycles counts completed validation passes including this one.
	Cycles int `json:"cycles"`

	Issues []Issue `json:"issues,omitempty"`
}

// cycleCount reports how many validation passes this run has completed.
func (d Document) cycleCount() int {
	if d.Validation == nil {
		return 0
	}
	return d.Validation.Cycles
}

// Evaluate runs every cross-validation check against the document and decides
// the outcome deterministically.
//
// Routing decision:
//
//   - Any error issue routes to the target of the first error encountered in
//     check order.
//   - Warnings alone route to the target named by the most warnings; ties go
//     to the target first encountered in check order.
//   - No issues means pass.
//
// Once the incoming cycle count reaches maxCycles the result is a forced
// pass: Passed is true, Forced is true, and all outstanding issues are
// retained in the report so downstream stages and the operator can see what
// was waved through. The returned cycle count is incremented regardless of
// outcome, so a run with maxCycles of 2 gets two full rework cycles before
// the ceiling fires.
func Evaluate(doc Document, cycles, maxCycles int) Report {
	issues := collectIssues(doc)

	report := Report{Cycles: cycles + 1, Issues: issues}

	if len(issues) == 0 {
		report.Passed = true
		return report
	}

	if cycles >= maxCycles {
		report.Passed = true
		report.Forced = true
		return report
	}

	for _, issue := range issues {
		if issue.Severity == SeverityError {
			report.Target = issue.Target
			return report
		}
	}

	// Warnings only: majority vote by target, first encountered wins ties.
	votes := make(map[string]int)
	order := make([]string, 0, len(issues))
	for _, issue := range issues {
		if votes[issue.Target] == 0 {
			order = append(order, issue.Target)
		}
		votes[issue.Target]++
	}
	best := order[0]
	for _, target := range order[1:] {
		if votes[target] > votes[best] {
			best = target
		}
	}
	report.Target = best
	return report
}

// collectIssues runs the checks in fixed coarse-to-fine order.
func collectIssues(doc Document) []Issue {
	var issues []Issue

	issues = append(issues, checkMissingArtifacts(doc)...)

	// Reference-level checks only make sense once storage structures exist;
	// their absence was already reported above.
	if len(doc.Tables) > 0 {
		issues = append(issues, checkMissingStructures(doc)...)
		issues = append(issues, checkColumnReferences(doc)...)
		issues = append(issues, checkEndpointReferences(doc)...)
		issues = append(issues, checkAccessMismatches(doc)...)
		issues = append(issues, checkOrphanStructures(doc)...)
	}

	return issues
}

func checkMissingArtifacts(doc Document) []Issue {
	var issues []Issue
	if doc.Blueprint == nil {
		issues = append(issues, Issue{
			Kind:     IssueMissingArtifact,
			Severity: SeverityError,
			Subject:  "blueprint",
			Detail:   "no architecture blueprint has been produced",
			Target:   NodeBlueprint,
		})
	}
	if len(doc.Tables) == 0 {
		issues = append(issues, Issue{
			Kind:     IssueMissingArtifact,
			Severity: SeverityError,
			Subject:  "tables",
			Detail:   "no storage structures have been produced",
			Target:   NodeSchema,
		})
	}
	if len(doc.Endpoints) == 0 {
		issues = append(issues, Issue{
			Kind:     IssueMissingArtifact,
			Severity: SeverityError,
			Subject:  "endpoints",
			Detail:   "no interface contract has been produced",
			Target:   NodeContract,
		})
	}
	return issues
}

// checkMissingStructures verifies every domain entity maps to a storage
// structure, either by explicit mapping or by normalized name match.
func checkMissingStructures(doc Document) []Issue {
	var issues []Issue
	for _, entity := range doc.Entities {
		if tableForEntity(doc.Tables, entity) == "" {
			issues = append(issues, Issue{
				Kind:     IssueMissingStructure,
				Severity: SeverityError,
				Subject:  entity.Name,
				Detail:   fmt.Sprintf("entity %q has no storage structure", entity.Name),
				Target:   NodeSchema,
			})
		}
	}
	return issues
}

func checkColumnReferences(doc Document) []Issue {
	byName := tableIndex(doc.Tables)
	var issues []Issue
	for _, table := range doc.Tables {
		for _, col := range table.Columns {
			if col.References == "" {
				continue
			}
			refTable, refCol := splitReference(col.References)
			target, ok := byName[refTable]
			if !ok {
				issues = append(issues, Issue{
					Kind:     IssueInvalidReference,
					Severity: SeverityError,
					Subject:  table.Name + "." + col.Name,
					Detail:   fmt.Sprintf("column %s.%s references unknown structure %q", table.Name, col.Name, refTable),
					Target:   NodeSchema,
				})
				continue
			}
			if refCol != "" && !hasColumn(target, refCol) {
				issues = append(issues, Issue{
					Kind:     IssueInvalidReference,
					Severity: SeverityError,
					Subject:  table.Name + "." + col.Name,
					Detail:   fmt.Sprintf("column %s.%s references unknown column %s.%s", table.Name, col.Name, refTable, refCol),
					Target:   NodeSchema,
				})
			}
		}
	}
	return issues
}

func checkEndpointReferences(doc Document) []Issue {
	byName := tableIndex(doc.Tables)
	var issues []Issue
	for _, ep := range doc.Endpoints {
		for _, name := range ep.Reads {
			if _, ok := byName[name]; !ok {
				issues = append(issues, endpointRefIssue(ep, name, "reads"))
			}
		}
		for _, name := range ep.Writes {
			if _, ok := byName[name]; !ok {
				issues = append(issues, endpointRefIssue(ep, name, "writes"))
			}
		}
	}
	return issues
}

func endpointRefIssue(ep Endpoint, table, op string) Issue {
	return Issue{
		Kind:     IssueUnresolvedEndpointRef,
		Severity: SeverityError,
		Subject:  ep.Method + " " + ep.Path,
		Detail:   fmt.Sprintf("endpoint %s %s %s unknown structure %q", ep.Method, ep.Path, op, table),
		Target:   NodeContract,
	}
}

func checkAccessMismatches(doc Document) []Issue {
	byName := tableIndex(doc.Tables)
	var issues []Issue
	for _, ep := range doc.Endpoints {
		if ep.Access != "public" {
			continue
		}
		for _, name := range ep.Writes {
			if table, ok := byName[name]; ok && table.Protected {
				issues = append(issues, Issue{
					Kind:     IssueAccessMismatch,
					Severity: SeverityWarning,
					Subject:  ep.Method + " " + ep.Path,
					Detail:   fmt.Sprintf("public endpoint %s %s writes protected structure %q", ep.Method, ep.Path, name),
					Target:   NodeContract,
				})
			}
		}
	}
	return issues
}

// checkOrphanStructures flags structures nothing references: no entity maps
// to them, no column points at them, no endpoint reads or writes them.
func checkOrphanStructures(doc Document) []Issue {
	referenced := make(map[string]bool)
	for _, entity := range doc.Entities {
		if name := tableForEntity(doc.Tables, entity); name != "" {
			referenced[name] = true
		}
	}
	for _, table := range doc.Tables {
		for _, col := range table.Columns {
			if col.References != "" {
				refTable, _ := splitReference(col.References)
				referenced[refTable] = true
			}
		}
	}
	for _, ep := range doc.Endpoints {
		for _, name := range ep.Reads {
			referenced[name] = true
		}
		for _, name := range ep.Writes {
			referenced[name] = true
		}
	}

	var issues []Issue
	for _, table := range doc.Tables {
		if !referenced[table.Name] {
			issues = append(issues, Issue{
				Kind:     IssueOrphanStructure,
				Severity: SeverityWarning,
				Subject:  table.Name,
				Detail:   fmt.Sprintf("structure %q is not referenced by any entity, column, or endpoint", table.Name),
				Target:   NodeSchema,
			})
		}
	}
	return issues
}

// tableForEntity resolves the storage structure an entity maps to, returning
// the structure name or "" when none matches. Explicit mapping wins; then a
// structure declaring the entity; then a normalized name match.
func tableForEntity(tables []Table, entity Entity) string {
	if entity.Table != "" {
		for _, t := range tables {
			if t.Name == entity.Table {
				return t.Name
			}
		}
		return ""
	}
	for _, t := range tables {
		if strings.EqualFold(t.Entity, entity.Name) {
			return t.Name
		}
	}
	want := normalizeName(entity.Name)
	for _, t := range tables {
		got := normalizeName(t.Name)
		if got == want || got == want+"s" || got == want+"es" {
			return t.Name
		}
	}
	return ""
}

// normalizeName lowercases and strips separators so "UserProfile",
// "user_profile", and "user-profiles" compare by stem.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func tableIndex(tables []Table) map[string]Table {
	byName := make(map[string]Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	return byName
}

func splitReference(ref string) (table, column string) {
	if i := strings.Index(ref, "."); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func hasColumn(t Table, name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
