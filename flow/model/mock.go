package model

import (
	"context"
	"sync"
)

// MockChatModel is a test implementation of ChatModel.
//
// Use it to verify pipeline behavior without real API calls:
//   - Scripted responses, returned in order (the last repeats)
//   - Error injection, either globally or per call index
//   - Call history for asserting what the pipeline sent
//
// Example:
//
//	mock := &MockChatModel{
//	    Responses: []ChatOut{
//	        {Text: `{"requirements":[]}`, Usage: Usage{InputTokens: 100, OutputTokens: 50}},
//	    },
//	}
type MockChatModel struct {
	// Responses is the sequence of responses to return. When exhausted, the
	// last response repeats.
	Responses []ChatOut

	// Err, if set, is returned by every Chat call instead of a response.
	Err error

	// ErrAt maps zero-based call indexes to injected errors, for testing
	// retry paths where only some attempts fail.
	ErrAt map[int]error

	// Calls records every Chat invocation.
	Calls [][]Message

	mu        sync.Mutex
	callIndex int
}

// Chat implements the ChatModel interface.
func (m *MockChatModel) Chat(_ context.Context, messages []Message) (ChatOut, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.callIndex
	m.callIndex++
	m.Calls = append(m.Calls, messages)

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if err, ok := m.ErrAt[index]; ok {
		return ChatOut{}, err
	}

	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}
	if index >= len(m.Responses) {
		index = len(m.Responses) - 1
	}
	return m.Responses[index], nil
}

// CallCount returns how many times Chat has been invoked.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIndex
}
