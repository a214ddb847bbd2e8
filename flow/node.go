package flow

import "context"

// Node represents a single step in the pipeline graph.
//
// A node receives a read-only snapshot of the accumulated state, performs its
// work (a deterministic transformation, a delegated reasoning call, a
// workspace operation), and returns a NodeResult describing the partial state
// update it produced. Nodes are stateless between invocations: everything
// durable lives in the state document.
//
// Nodes must be idempotent with respect to re-execution from the same
// snapshot. A crash between node completion and checkpointing means the node
// can run twice for the same logical visit.
//
// Type parameter S is the state type shared across the pipeline.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state snapshot.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of one node execution.
//
// Routing is not part of the result: control flow is owned entirely by the
// engine's edge table (static next or router), so the same node can be
// reached from multiple predecessors without duplicating its logic.
type NodeResult[S any] struct {
	// Delta is the partial state update produced by this node. It is merged
	// into the current state by the engine's reducer. Zero-value fields
	// follow the selective-update convention: only fields the node changed
	// are set.
	Delta S

	// Questions, when non-empty, requests human input. The engine checkpoints
	// normally and then suspends the run by returning AwaitInputError. The
	// caller supplies answers as the input of the next Run for the same run
	// ID.
	Questions []string

	// Err aborts the run. The last successful checkpoint remains valid for a
	// later resume attempt.
	Err error
}

// NodeFunc adapts a plain function to the Node interface.
//
// Example:
//
//	analyze := flow.NodeFunc[Doc](func(ctx context.Context, d Doc) flow.NodeResult[Doc] {
//	    return flow.NodeResult[Doc]{Delta: Doc{Status: "analyzed"}}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError is a structured error raised by node execution.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
