// Package llm defines the Provider interface for language-model backends.
//
// An LLM provider wraps a remote or local model API and exposes the single
// operation the voice pipeline needs: turn the accumulated conversation into
// the assistant's next reply. Streaming, tool calling, and token accounting
// are deliberately out of this interface; the pipeline speaks whole replies.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Role values for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation context sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser, RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Respond sends the conversation context to the model and returns the
	// assistant's reply text. The last message is expected to carry the
	// user's latest utterance.
	Respond(ctx context.Context, conversation []Message) (string, error)
}
