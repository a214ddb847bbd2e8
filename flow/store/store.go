// Package store provides checkpoint persistence for pipeline runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run or step does not exist.
var ErrNotFound = errors.New("not found")

// Checkpoint is an immutable snapshot persisted after every node completes.
//
// NodeID records the *resolved next* node at checkpoint time, so resuming a
// run reconstructs execution from the node after the last completed one and
// never re-executes a completed node. NodeID is flow.End once the run has
// terminated.
type Checkpoint[S any] struct {
	// RunID identifies the pipeline run this checkpoint belongs to.
	RunID string `json:"run_id"`

	// Step is the execution step number at checkpoint time, monotonically
	// increasing within a run (1-indexed).
	Step int `json:"step"`

	// NodeID is the next node to execute when resuming from this checkpoint.
	NodeID string `json:"node_id"`

	// State is the accumulated state after the step's delta was merged.
	// Must be JSON-serializable for durable backends.
	State S `json:"state"`

	// CreatedAt records when this checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists run checkpoints.
//
// The engine's correctness does not depend on which implementation is used;
// backends are selected by configuration:
//   - MemStore: in-process, for tests and short-lived runs
//   - SQLiteStore: single-file durable store, zero setup
//   - MySQLStore: shared-database durable store
//   - RedisStore: key-value durable store
//
// Type parameter S is the state type to persist.
type Store[S any] interface {
	// SaveStep persists a checkpoint. A checkpoint supersedes the previous
	// one of the same run as the resume point; step history is retained for
	// inspection.
	SaveStep(ctx context.Context, cp Checkpoint[S]) error

	// LoadLatest retrieves the checkpoint with the highest step for a run.
	// Returns ErrNotFound if the run has no checkpoints.
	LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error)

	// LoadStep retrieves a specific step's checkpoint.
	// Returns ErrNotFound if it does not exist.
	LoadStep(ctx context.Context, runID string, step int) (Checkpoint[S], error)

	// PurgeRun removes all checkpoints for a run. Purging an unknown run is
	// not an error.
	PurgeRun(ctx context.Context, runID string) error
}
