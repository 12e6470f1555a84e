// Package llm provides the provider abstraction the flow runner drives for
// model-backed nodes. It supports both synchronous completions and
// streaming responses delivered over a channel of chunks.
package llm

import (
	"context"
	"time"
)

// Provider defines the interface that all LLM providers must implement.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g., "anthropic", "script").
	Name() string

	// Complete sends a synchronous completion request and returns the full response.
	// This method blocks until the model response is complete.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a streaming completion request and returns a channel of chunks.
	// The caller must consume all chunks from the channel until it closes.
	// Errors during streaming are sent as StreamChunk with Error field set.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// CompletionRequest contains the parameters for a completion request.
type CompletionRequest struct {
	// Prompt is the user prompt for this request.
	Prompt string

	// System is the optional system prompt.
	System string

	// Model specifies which model to use. Empty means provider default.
	Model string

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative).
	Temperature *float64

	// MaxTokens limits the response length. If nil, uses provider default.
	MaxTokens *int

	// Metadata contains request tracking information (run IDs, node names).
	Metadata map[string]string
}

// CompletionResponse contains the full response from a non-streaming completion.
type CompletionResponse struct {
	// Content is the generated text response.
	Content string

	// Model is the actual model ID that handled this request.
	Model string

	// Created is the timestamp when this response was generated.
	Created time.Time
}

// StreamChunk represents a single piece of a streaming response.
type StreamChunk struct {
	// Content is the text added in this chunk.
	Content string

	// Error contains any error that occurred during streaming.
	// When set, this is the final chunk and the stream will close.
	Error error
}
