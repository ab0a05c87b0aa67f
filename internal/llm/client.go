// Package llm provides the chat backend capability: clients that turn a
// system message plus conversation history into a model response, and the
// Session type that owns one thread's conversational state.
package llm

import (
	"context"
)

// Role tags for conversation messages.
const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry in a session's history.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Completer defines the interface for chat backend providers.
type Completer interface {
	// Complete sends a single prompt with no history or system message.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteChat sends the full conversation and returns the model's
	// next assistant message. The last history entry is the pending
	// human prompt.
	CompleteChat(ctx context.Context, systemPrompt string, history []Message) (string, error)
}
