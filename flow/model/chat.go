// Package model provides the delegated reasoning service boundary.
//
// The pipeline treats the external reasoning service as an opaque function:
// a conversation goes in, text plus measured usage comes out. Structured
// interpretation, retry, and budget enforcement live in flow/call, not here.
package model

import "context"

// ChatModel is the interface all reasoning providers implement.
//
// Implementations should handle provider-specific authentication, convert
// the standard Message format to the provider's wire format, report measured
// token usage, and respect context cancellation.
type ChatModel interface {
	// Chat sends the conversation to the provider and returns its response.
	//
	// Transport or provider failures are returned as-is; callers distinguish
	// them from output-format failures, which can only be detected after a
	// successful response.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is a single message in a reasoning conversation.
type Message struct {
	// Role identifies the sender: one of the Role* constants.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// Standard role constants, aligned with the conventions of the major
// providers.
const (
	// RoleSystem sets context or instructions; appears first if present.
	RoleSystem = "system"

	// RoleUser is input from the pipeline.
	RoleUser = "user"

	// RoleAssistant is a provider response.
	RoleAssistant = "assistant"
)

// ChatOut is the output of one chat completion.
type ChatOut struct {
	// Text is the generated response.
	Text string

	// Usage is the provider-measured consumption for this call. Zero values
	// mean the provider did not report usage; callers may estimate from
	// input/output size instead.
	Usage Usage
}

// Usage is measured token consumption for a single call.
type Usage struct {
	// InputTokens is the number of input tokens consumed.
	InputTokens int

	// OutputTokens is the number of output tokens generated.
	OutputTokens int
}
