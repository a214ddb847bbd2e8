package store

import (
	"context"
	"sync"
)

// MemStore is an in-memory implementation of Store[S].
//
// Designed for testing and short-lived runs; data is lost when the process
// terminates. Thread-safe.
type MemStore[S any] struct {
	mu    sync.RWMutex
	steps map[string][]Checkpoint[S] // runID -> checkpoints in save order
}

// NewMemStore creates an in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{steps: make(map[string][]Checkpoint[S])}
}

// SaveStep appends a checkpoint to the run's history. Saving the same
// (run, step) twice replaces the earlier record, matching the durable
// backends.
func (m *MemStore[S]) SaveStep(_ context.Context, cp Checkpoint[S]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.steps[cp.RunID]
	for i, record := range records {
		if record.Step == cp.Step {
			records[i] = cp
			return nil
		}
	}
	m.steps[cp.RunID] = append(records, cp)
	return nil
}

// LoadLatest returns the checkpoint with the highest step number, handling
// out-of-order saves.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[runID]
	if len(records) == 0 {
		var zero Checkpoint[S]
		return zero, ErrNotFound
	}

	latest := records[0]
	for _, record := range records[1:] {
		if record.Step > latest.Step {
			latest = record
		}
	}
	return latest, nil
}

// LoadStep returns a specific checkpoint of a run.
func (m *MemStore[S]) LoadStep(_ context.Context, runID string, step int) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, record := range m.steps[runID] {
		if record.Step == step {
			return record, nil
		}
	}
	var zero Checkpoint[S]
	return zero, ErrNotFound
}

// PurgeRun drops all checkpoints for a run.
func (m *MemStore[S]) PurgeRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.steps, runID)
	return nil
}
