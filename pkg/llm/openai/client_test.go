package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/turnloop/pkg/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(&llm.Config{
		BaseURL: server.URL + "/v1",
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	})
}

func TestOpenAIClient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected path '/v1/chat/completions', got %q", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role":    "assistant",
						"content": "test response",
					},
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     10,
				"completion_tokens": 5,
				"total_tokens":      15,
			},
		})
	})

	resp, err := client.Complete(context.Background(), []llm.Message{{Role: "user", Content: "hello"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "test response" {
		t.Errorf("expected 'test response', got %s", resp.Content)
	}
	if resp.Usage.InputTokens != 10 {
		t.Errorf("expected 10 input tokens, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIClientRequestFormat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		msgs := req["messages"].([]any)
		if len(msgs) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(msgs))
		}
		assistant := msgs[1].(map[string]any)
		calls := assistant["tool_calls"].([]any)
		if len(calls) != 1 {
			t.Errorf("expected 1 tool call on assistant message, got %d", len(calls))
		}
		tool := msgs[2].(map[string]any)
		if tool["tool_call_id"] != "tc1" {
			t.Errorf("expected tool_call_id 'tc1', got %v", tool["tool_call_id"])
		}
		tools := req["tools"].([]any)
		if len(tools) != 1 {
			t.Errorf("expected 1 tool schema, got %d", len(tools))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	})

	messages := []llm.Message{
		{Role: "user", Content: "run echo"},
		{Role: "assistant", Tools: []llm.ToolCall{{
			ID: "tc1", Type: "function",
			Function: llm.FunctionCall{Name: "echo", Arguments: json.RawMessage(`{"x":1}`)},
		}}},
		{Role: "tool", Content: "1", ToolCallID: "tc1"},
	}
	tools := []llm.Tool{{
		Type:     "function",
		Function: llm.Function{Name: "echo", Description: "Echo", Parameters: json.RawMessage(`{"type":"object"}`)},
	}}

	if _, err := client.Complete(context.Background(), messages, tools); err != nil {
		t.Fatal(err)
	}
}

func TestOpenAIClientAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded","type":"rate_limit"}}`)
	})

	_, err := client.Complete(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAIClientStreamText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"choices":[{"index":0,"delta":{"role":"assistant","content":"hel"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		)
	})

	stream, err := client.Stream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := llm.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Errorf("expected 'hello', got %q", resp.Content)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("expected no tool calls, got %d", len(resp.ToolCalls))
	}
}

func TestOpenAIClientStreamToolCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"echo","arguments":""}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"x\":"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"ask_user","arguments":"{}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
		)
	})

	stream, err := client.Stream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := llm.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
	first := resp.ToolCalls[0]
	if first.ID != "call_a" || first.Function.Name != "echo" {
		t.Errorf("unexpected first call: %+v", first)
	}
	if string(first.Function.Arguments) != `{"x":1}` {
		t.Errorf("expected assembled arguments, got %s", first.Function.Arguments)
	}
	if resp.ToolCalls[1].ID != "call_b" {
		t.Errorf("expected second call 'call_b', got %q", resp.ToolCalls[1].ID)
	}
}

func TestOpenAIClientStreamTruncatedArguments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"echo","arguments":"{\"text\":\"cut"}}]},"finish_reason":"length"}]}`,
		)
	})

	stream, err := client.Stream(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := llm.Drain(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	args := resp.ToolCalls[0].Function.Arguments
	if !json.Valid(args) {
		t.Fatalf("arguments must stay valid JSON, got %s", args)
	}
	var raw string
	if err := json.Unmarshal(args, &raw); err != nil || raw != `{"text":"cut` {
		t.Errorf("expected original text kept as a JSON string, got %s", args)
	}
	if _, err := json.Marshal(resp.ToolCalls[0]); err != nil {
		t.Errorf("tool call must marshal: %v", err)
	}
}

func TestRawArguments(t *testing.T) {
	tests := map[string]string{
		"":         `{}`,
		"  ":       `{}`,
		`{"a":1}`:  `{"a":1}`,
		`{"a":`:    `"{\"a\":"`,
		`not json`: `"not json"`,
	}
	for in, want := range tests {
		if got := string(rawArguments(in)); got != want {
			t.Errorf("rawArguments(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestToAPIMessagesMultiContent(t *testing.T) {
	out := toAPIMessages([]llm.Message{{
		Role:    "user",
		Content: "what is this?",
		Parts:   []llm.Part{{Type: "image_url", URL: "https://example.com/a.png"}},
	}})
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if out[0].Content != "" {
		t.Errorf("expected Content to be empty when MultiContent is used, got %q", out[0].Content)
	}
	if len(out[0].MultiContent) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(out[0].MultiContent))
	}
	if out[0].MultiContent[1].ImageURL == nil || out[0].MultiContent[1].ImageURL.URL != "https://example.com/a.png" {
		t.Errorf("expected image part, got %+v", out[0].MultiContent[1])
	}
}
