package flow

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a partial state update into the accumulated state.
//
// Reducers must be pure: given the same prev and delta they always produce
// the same next state, and they never mutate prev in place. The engine calls
// the reducer exactly once per node result, so a delta is never applied
// twice.
type Reducer[S any] func(prev, delta S) S

// deepCopy creates a deep copy of state S using JSON round-trip
// serialization. Nodes receive copies so they cannot mutate the engine's
// accumulated state directly.
//
// Works for any JSON-marshalable state. Unexported fields, channels, and
// functions are not carried across the copy.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}

// Replace is the last-write-wins merge discipline for pointer-typed fields.
// A nil incoming value is a no-op: the current value is retained. This is the
// selective-update convention: nodes set only the fields they changed.
func Replace[T any](cur, in *T) *T {
	if in != nil {
		return in
	}
	return cur
}

// ReplaceZero is last-write-wins for comparable value fields where the zero
// value means "not updated".
func ReplaceZero[T comparable](cur, in T) T {
	var zero T
	if in != zero {
		return in
	}
	return cur
}

// ReplaceSlice is last-write-wins for slice-valued artifact fields. A nil
// incoming slice is a no-op; a non-nil (even empty) slice replaces wholesale.
func ReplaceSlice[T any](cur, in []T) []T {
	if in != nil {
		return in
	}
	return cur
}

// AppendSeq is the ordered-append accumulate discipline. The current sequence
// never shrinks from an update; incoming elements are appended in order. The
// result is a fresh slice so reducers stay pure.
func AppendSeq[T any](cur, in []T) []T {
	if len(in) == 0 {
		return cur
	}
	next := make([]T, 0, len(cur)+len(in))
	next = append(next, cur...)
	next = append(next, in...)
	return next
}

// UpsertByKey is the key-wise accumulate discipline. Incoming elements
// replace existing elements with the same key in place, preserving the
// relative order of first appearance; new keys append at the end.
func UpsertByKey[T any](cur, in []T, key func(T) string) []T {
	if len(in) == 0 {
		return cur
	}
	next := make([]T, len(cur))
	copy(next, cur)

	index := make(map[string]int, len(next))
	for i, v := range next {
		index[key(v)] = i
	}

	for _, v := range in {
		if i, ok := index[key(v)]; ok {
			next[i] = v
			continue
		}
		index[key(v)] = len(next)
		next = append(next, v)
	}
	return next
}
