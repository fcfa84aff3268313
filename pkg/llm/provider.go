package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)

	// Stream sends a chat completion request and returns a channel of
	// incremental deltas. The channel is closed when the assistant's turn of
	// speech ends. A delta with a non-nil Err is the last one sent.
	Stream(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Drain consumes a delta stream and assembles the full response. Text is
// concatenated and tool calls collected in arrival order. If ctx is cancelled
// or the stream reports an error, the partial response is discarded.
func Drain(ctx context.Context, stream <-chan Delta) (*Response, error) {
	var (
		text  strings.Builder
		calls []ToolCall
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-stream:
			if !ok {
				return &Response{Content: text.String(), ToolCalls: calls}, nil
			}
			if d.Err != nil {
				return nil, fmt.Errorf("stream: %w", d.Err)
			}
			text.WriteString(d.Content)
			calls = append(calls, d.ToolCalls...)
		}
	}
}
