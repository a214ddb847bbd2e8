// Package flow provides the core pipeline execution engine for planforge.
package flow

// End is the terminal marker. A static edge pointing at End, or a router
// returning End, stops the run.
const End = "__end__"

// Router chooses the next node from the current state.
//
// Routers are re-evaluated on every visit to their node, so a node revisited
// through a cycle can route differently as state accumulates. A router must
// return a registered node ID or End; anything else is a configuration defect
// and aborts the run.
//
// Routers should be pure functions of state: deterministic, no side effects.
type Router[S any] func(state S) string
