// Package llm defines the chat-completion interface used by the correction
// pass.
//
// A provider wraps a remote or local model API and answers a single,
// non-streaming completion. Correction never retries: a failed call is
// returned to the caller as is.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest carries everything the model needs for one reply.
type CompletionRequest struct {
	// SystemPrompt is sent as the leading system message when non-empty.
	SystemPrompt string

	// Messages is the ordered conversation. For correction this is a single
	// user message holding the raw transcript.
	Messages []Message

	// Temperature controls randomness in [0.0, 2.0]. Zero uses the provider
	// default.
	Temperature float64

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// ModelCapabilities describes limits of the configured model.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply. It must return
	// promptly when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static limits of the model.
	Capabilities() ModelCapabilities
}

// KnownCapabilities returns limits for well-known model families. Unknown
// models get conservative defaults.
func KnownCapabilities(model string) ModelCapabilities {
	caps := ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"), strings.HasPrefix(lower, "gpt-4.1"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "gpt-4-turbo"):
	case strings.HasPrefix(lower, "gpt-4"):
		caps.ContextWindow = 8_192
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
	case strings.Contains(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_000_000
		caps.MaxOutputTokens = 8_192
	}
	return caps
}
