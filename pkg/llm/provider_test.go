package llm

import (
	"context"
	"errors"
	"testing"
)

// MockProvider is a test double that satisfies the Provider interface.
type MockProvider struct {
	CompleteFunc func(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
	StreamFunc   func(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error)
}

func (m *MockProvider) Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages, tools)
	}
	return &Response{Content: "mock response"}, nil
}

func (m *MockProvider) Stream(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, messages, tools)
	}
	ch := make(chan Delta, 1)
	ch <- Delta{Content: "mock stream"}
	close(ch)
	return ch, nil
}

func deltas(ds ...Delta) <-chan Delta {
	ch := make(chan Delta, len(ds))
	for _, d := range ds {
		ch <- d
	}
	close(ch)
	return ch
}

func TestProviderInterface(t *testing.T) {
	var provider Provider = &MockProvider{}
	ctx := context.Background()
	messages := []Message{{Role: "user", Content: "test"}}

	resp, err := provider.Complete(ctx, messages, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content == "" {
		t.Error("expected non-empty response")
	}

	stream, err := provider.Stream(ctx, messages, nil)
	if err != nil {
		t.Fatal(err)
	}
	delta := <-stream
	if delta.Content == "" {
		t.Error("expected non-empty delta")
	}
}

func TestDrainConcatenatesInOrder(t *testing.T) {
	stream := deltas(
		Delta{Content: "hello "},
		Delta{ToolCalls: []ToolCall{{ID: "a", Function: FunctionCall{Name: "first"}}}},
		Delta{Content: "world"},
		Delta{ToolCalls: []ToolCall{{ID: "b", Function: FunctionCall{Name: "second"}}}},
		Delta{Content: "!"},
	)

	resp, err := Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello world!" {
		t.Errorf("expected 'hello world!', got %q", resp.Content)
	}
	if len(resp.ToolCalls) != 2 || resp.ToolCalls[0].ID != "a" || resp.ToolCalls[1].ID != "b" {
		t.Errorf("expected tool calls a, b in order, got %+v", resp.ToolCalls)
	}
}

func TestDrainStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	stream := deltas(Delta{Content: "partial"}, Delta{Err: boom})

	resp, err := Drain(context.Background(), stream)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped stream error, got %v", err)
	}
	if resp != nil {
		t.Errorf("expected partial response to be discarded, got %+v", resp)
	}
}

func TestDrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := make(chan Delta, 1)
	stream <- Delta{Content: "partial"}
	cancel()

	// The channel is never closed; Drain must return on cancellation.
	resp, err := Drain(ctx, stream)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if resp != nil {
		t.Error("expected no response after cancellation")
	}
}
