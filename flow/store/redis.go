package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a key-value durable implementation of Store[S].
//
// Each run maps to one hash keyed "planforge:run:<runID>": every step's
// checkpoint is a JSON field named by its step number, and a "latest" field
// tracks the resume point. Purging a run is a single DEL.
//
// The state type S must be JSON-serializable.
type RedisStore[S any] struct {
	client *redis.Client
}

// NewRedisStore creates a store around an existing go-redis client. The
// caller owns the client's lifecycle.
func NewRedisStore[S any](client *redis.Client) *RedisStore[S] {
	return &RedisStore[S]{client: client}
}

func runKey(runID string) string {
	return "planforge:run:" + runID
}

// SaveStep persists a checkpoint and moves the latest-step pointer to it.
// The engine saves steps in increasing order, so the pointer only advances.
func (r *RedisStore[S]) SaveStep(ctx context.Context, cp Checkpoint[S]) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := runKey(cp.RunID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(cp.Step), payload)
	pipe.HSet(ctx, key, "latest", cp.Step)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest retrieves the checkpoint the latest-step pointer names.
func (r *RedisStore[S]) LoadLatest(ctx context.Context, runID string) (Checkpoint[S], error) {
	var zero Checkpoint[S]

	latest, err := r.client.HGet(ctx, runKey(runID), "latest").Int()
	if err == redis.Nil {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load latest pointer: %w", err)
	}

	return r.LoadStep(ctx, runID, latest)
}

// LoadStep retrieves a specific checkpoint of a run.
func (r *RedisStore[S]) LoadStep(ctx context.Context, runID string, step int) (Checkpoint[S], error) {
	var zero Checkpoint[S]

	payload, err := r.client.HGet(ctx, runKey(runID), strconv.Itoa(step)).Bytes()
	if err == redis.Nil {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp Checkpoint[S]
	if err := json.Unmarshal(payload, &cp); err != nil {
		return zero, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// PurgeRun removes all checkpoints for a run.
func (r *RedisStore[S]) PurgeRun(ctx context.Context, runID string) error {
	return r.client.Del(ctx, runKey(runID)).Err()
}
