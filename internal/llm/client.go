// Package llm provides the completion clients behind the dev server's
// passthrough mode.
package llm

import (
	"context"
)

// TokenFunc is called for each streamed token.
type TokenFunc func(token string) error

// Turn is one transcript entry sent to the provider.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	Model     string
	Turns     []Turn
	MaxTokens int
}

// Reply is a settled completion.
type Reply struct {
	Content    string
	Model      string
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Reply sends a completion request and returns the settled response.
	Reply(ctx context.Context, req *Request) (*Reply, error)

	// StreamReply streams the response token by token, then returns the
	// settled reply.
	StreamReply(ctx context.Context, req *Request, onToken TokenFunc) (*Reply, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates an LLM client for the given provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}
