package domain

import "context"

// LLMProvider is the interface for the hosted model endpoint.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "endpoint", "openai").
	Name() string
}
