package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dshills/planforge/flow/emit"
	"github.com/dshills/planforge/flow/store"
)

// Engine orchestrates sequential, resumable pipeline execution.
//
// The engine owns the graph topology (node registry plus an adjacency table
// of static edges and routers), drives one run at a time through it, merges
// each node's partial update via the reducer, and persists a checkpoint after
// every node. Cycles are ordinary edges: routers are re-evaluated on every
// visit, so a validation node can send execution back to an earlier stage
// with updated state.
//
// Scheduling is a single logical thread of control per run. Nodes execute
// strictly sequentially; nothing within a run is concurrent, and runs never
// share state documents, so no external locking is required around state.
//
// Type parameter S is the state type shared across the pipeline.
//
// Example:
//
//	eng := flow.New(reduce, store.NewMemStore[Doc](), emit.NewLogEmitter(os.Stderr, false), flow.Options{MaxSteps: 50})
//	eng.Add("analyze", analyzeNode)
//	eng.Add("report", reportNode)
//	eng.StartAt("analyze")
//	eng.SetNext("analyze", "report")
//	eng.SetNext("report", flow.End)
//
//	final, err := eng.Run(ctx, "run-001", Doc{Idea: "task tracker"})
type Engine[S any] struct {
	mu sync.RWMutex

	// reducer merges partial state updates deterministically.
	reducer Reducer[S]

	// nodes maps node IDs to Node implementations.
	nodes map[string]Node[S]

	// next holds static edges: node ID -> successor node ID (or End).
	next map[string]string

	// routers holds conditional edges: node ID -> router function.
	routers map[string]Router[S]

	// startNode is the entry point for fresh runs.
	startNode string

	// store persists checkpoints.
	store store.Store[S]

	// emitter receives observability events. May be nil.
	emitter emit.Emitter

	opts Options
}

// Options configures engine execution behavior.
type Options struct {
	// MaxSteps is the hard safety ceiling on node executions per run,
	// guarding against a misconfigured router cycling forever. Exceeding it
	// is fatal (ErrMaxStepsExceeded), never a normal control path.
	// If 0, no limit is enforced.
	MaxSteps int

	// Metrics, if non-nil, receives step latency and run outcome
	// observations.
	Metrics *Metrics
}

// New creates an Engine. The reducer and store are required for Run; the
// emitter is optional. Validation is deferred to Run so graphs can be built
// in any order.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts Options) *Engine[S] {
	return &Engine[S]{
		reducer: reducer,
		nodes:   make(map[string]Node[S]),
		next:    make(map[string]string),
		routers: make(map[string]Router[S]),
		store:   st,
		emitter: emitter,
		opts:    opts,
	}
}

// Add registers a node. Node IDs must be unique and non-empty.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" || nodeID == End {
		return &EngineError{Message: "invalid node ID: " + nodeID, Code: "INVALID_NODE_ID"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil", Code: "INVALID_NODE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: "DUPLICATE_NODE"}
	}

	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry node for fresh runs. The node must already be
// registered.
func (e *Engine[S]) StartAt(nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}

	e.startNode = nodeID
	return nil
}

// SetNext installs the static outgoing edge for a node. Every node has
// either exactly one static edge or exactly one router, never both.
func (e *Engine[S]) SetNext(from, to string) error {
	if from == "" || to == "" {
		return &EngineError{Message: "edge endpoints cannot be empty", Code: "INVALID_EDGE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.routers[from]; exists {
		return &EngineError{Message: "node already has a router: " + from, Code: "CONFLICTING_EDGE"}
	}
	if _, exists := e.next[from]; exists {
		return &EngineError{Message: "node already has a static edge: " + from, Code: "CONFLICTING_EDGE"}
	}

	e.next[from] = to
	return nil
}

// SetRouter installs the conditional outgoing edge for a node. The router is
// re-evaluated on every visit and must return a registered node ID or End.
func (e *Engine[S]) SetRouter(from string, router Router[S]) error {
	if from == "" {
		return &EngineError{Message: "router source cannot be empty", Code: "INVALID_EDGE"}
	}
	if router == nil {
		return &EngineError{Message: "router cannot be nil", Code: "INVALID_EDGE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.next[from]; exists {
		return &EngineError{Message: "node already has a static edge: " + from, Code: "CONFLICTING_EDGE"}
	}
	if _, exists := e.routers[from]; exists {
		return &EngineError{Message: "node already has a router: " + from, Code: "CONFLICTING_EDGE"}
	}

	e.routers[from] = router
	return nil
}

// Run creates or resumes the run identified by runID and drives it to
// completion, suspension, or error.
//
// Fresh runs start at the entry node with input as the initial state.
// If checkpoints exist for runID, the run resumes: input is merged into the
// checkpointed state through the reducer (this is how human answers are
// supplied after a suspension) and execution continues at the checkpointed
// next node; completed nodes are never re-executed.
//
// Per node: execute with a deep-copied snapshot, merge the returned delta,
// resolve the outgoing edge, persist a checkpoint recording the resolved
// next node, then either continue, stop (next == End), or suspend
// (AwaitInputError) if the node requested human input.
//
// A node error aborts the run; the last successful checkpoint remains the
// valid resume point. Engine errors (unknown node, router returning an
// unregistered target, MaxSteps overflow) are configuration defects and also
// abort the run.
func (e *Engine[S]) Run(ctx context.Context, runID string, input S) (S, error) {
	var zero S

	if err := e.validateConfig(); err != nil {
		return zero, err
	}

	currentState := input
	currentNode := e.startNode
	step := 0

	// Resume from the latest checkpoint if one exists.
	cp, err := e.store.LoadLatest(ctx, runID)
	switch {
	case err == nil:
		if cp.NodeID == End {
			// Run already terminated; nothing to execute.
			return cp.State, nil
		}
		currentState = e.reducer(cp.State, input)
		currentNode = cp.NodeID
		step = cp.Step
		e.emit(emit.Event{RunID: runID, Step: step, NodeID: currentNode, Msg: "run resumed"})
	case errors.Is(err, store.ErrNotFound):
		// Fresh run.
	default:
		return zero, &EngineError{Message: "failed to load checkpoint: " + err.Error(), Code: "STORE_ERROR"}
	}

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			e.observeRun("max_steps")
			return zero, &EngineError{Message: ErrMaxStepsExceeded.Error(), Code: "MAX_STEPS_EXCEEDED"}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		e.mu.RUnlock()

		if !exists {
			return zero, &EngineError{Message: "node not found during execution: " + currentNode, Code: "NODE_NOT_FOUND"}
		}

		// Nodes receive a snapshot so they can never mutate accumulated
		// state directly.
		snapshot, err := deepCopy(currentState)
		if err != nil {
			return zero, &EngineError{Message: "failed to snapshot state: " + err.Error(), Code: "SNAPSHOT_ERROR"}
		}

		started := time.Now()
		result := nodeImpl.Run(ctx, snapshot)
		e.observeStep(currentNode, time.Since(started), result.Err)

		if result.Err != nil {
			e.emit(emit.Event{RunID: runID, Step: step, NodeID: currentNode, Msg: "node failed",
				Meta: map[string]interface{}{"error": result.Err.Error()}})
			e.observeRun("error")
			return zero, result.Err
		}

		currentState = e.reducer(currentState, result.Delta)

		nextNode, err := e.resolveNext(currentNode, currentState)
		if err != nil {
			return zero, err
		}

		if err := e.store.SaveStep(ctx, store.Checkpoint[S]{
			RunID:     runID,
			Step:      step,
			NodeID:    nextNode,
			State:     currentState,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return zero, &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "STORE_ERROR"}
		}

		e.emit(emit.Event{RunID: runID, Step: step, NodeID: currentNode, Msg: "node completed",
			Meta: map[string]interface{}{"next": nextNode}})

		if len(result.Questions) > 0 {
			e.emit(emit.Event{RunID: runID, Step: step, NodeID: currentNode, Msg: "run suspended",
				Meta: map[string]interface{}{"questions": len(result.Questions)}})
			e.observeRun("suspended")
			return currentState, &AwaitInputError{RunID: runID, NodeID: currentNode, Questions: result.Questions}
		}

		if nextNode == End {
			e.emit(emit.Event{RunID: runID, Step: step, NodeID: currentNode, Msg: "run completed"})
			e.observeRun("completed")
			return currentState, nil
		}

		currentNode = nextNode
	}
}

// resolveNext evaluates the outgoing edge of a node against current state.
// Conditional edges are re-evaluated on every visit, including revisits
// through cycles.
func (e *Engine[S]) resolveNext(nodeID string, state S) (string, error) {
	e.mu.RLock()
	staticNext, hasStatic := e.next[nodeID]
	router, hasRouter := e.routers[nodeID]
	e.mu.RUnlock()

	switch {
	case hasStatic:
		if err := e.checkTarget(nodeID, staticNext); err != nil {
			return "", err
		}
		return staticNext, nil
	case hasRouter:
		target := router(state)
		if err := e.checkTarget(nodeID, target); err != nil {
			return "", err
		}
		return target, nil
	default:
		return "", &EngineError{Message: "no outgoing edge from node: " + nodeID, Code: "NO_ROUTE"}
	}
}

// checkTarget verifies an edge target is End or a registered node.
func (e *Engine[S]) checkTarget(from, target string) error {
	if target == End {
		return nil
	}
	e.mu.RLock()
	_, ok := e.nodes[target]
	e.mu.RUnlock()
	if !ok {
		return &EngineError{
			Message: "edge from " + from + " targets unregistered node: " + target,
			Code:    "UNKNOWN_ROUTE_TARGET",
		}
	}
	return nil
}

func (e *Engine[S]) validateConfig() error {
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}
	return nil
}

func (e *Engine[S]) emit(ev emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func (e *Engine[S]) observeStep(nodeID string, d time.Duration, err error) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveStep(nodeID, d, err)
	}
}

func (e *Engine[S]) observeRun(outcome string) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveRun(outcome)
	}
}
