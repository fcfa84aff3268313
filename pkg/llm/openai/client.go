package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/user/turnloop/pkg/llm"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config *llm.Config
	api    *goopenai.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	apiCfg := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	return &Client{
		config: config,
		api:    goopenai.NewClientWithConfig(apiCfg),
	}
}

func (c *Client) request(messages []llm.Message, tools []llm.Tool) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: toAPIMessages(messages),
	}
	if len(tools) > 0 {
		req.Tools = toAPITools(tools)
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if c.config.Temperature != 0 {
		req.Temperature = c.config.Temperature
	}
	return req
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.request(messages, tools))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	msg := resp.Choices[0].Message
	return &llm.Response{
		Content:   msg.Content,
		ToolCalls: fromAPIToolCalls(msg.ToolCalls),
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream sends a streaming chat completion request. Text deltas are
// forwarded as they arrive; tool call fragments are assembled by index and
// delivered whole, in index order, once the stream ends.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []llm.Tool) (<-chan llm.Delta, error) {
	req := c.request(messages, tools)
	req.Stream = true

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	out := make(chan llm.Delta)
	go func() {
		defer close(out)
		defer stream.Close()

		send := func(d llm.Delta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		pending := make(map[int]*llm.ToolCall)
		args := make(map[int]*strings.Builder)

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				send(llm.Delta{Err: err})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				if !send(llm.Delta{Content: delta.Content}) {
					return
				}
			}
			for i, tc := range delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				call, ok := pending[idx]
				if !ok {
					call = &llm.ToolCall{Type: "function"}
					pending[idx] = call
					args[idx] = &strings.Builder{}
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Function.Name += tc.Function.Name
				}
				args[idx].WriteString(tc.Function.Arguments)
			}
		}

		if len(pending) == 0 {
			return
		}
		indices := make([]int, 0, len(pending))
		for idx := range pending {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		calls := make([]llm.ToolCall, 0, len(indices))
		for _, idx := range indices {
			call := pending[idx]
			call.Function.Arguments = rawArguments(args[idx].String())
			calls = append(calls, *call)
		}
		send(llm.Delta{ToolCalls: calls})
	}()

	return out, nil
}

// rawArguments keeps the model's argument text as JSON. Text that does not
// parse, such as a stream cut off at the token limit, is stored as a JSON
// string so the call can still be persisted and answered with an error.
func rawArguments(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage(`{}`)
	}
	if !json.Valid([]byte(s)) {
		quoted, _ := json.Marshal(s)
		return quoted
	}
	return json.RawMessage(s)
}

func toAPIMessages(messages []llm.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		m := goopenai.ChatCompletionMessage{
			Role:       msg.Role,
			ToolCallID: msg.ToolCallID,
		}
		if len(msg.Parts) > 0 && msg.Role == goopenai.ChatMessageRoleUser {
			m.MultiContent = toAPIParts(msg.Content, msg.Parts)
		} else {
			m.Content = msg.Content
		}
		for _, tc := range msg.Tools {
			m.ToolCalls = append(m.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: string(tc.Function.Arguments),
				},
			})
		}
		out[i] = m
	}
	return out
}

func toAPIParts(text string, parts []llm.Part) []goopenai.ChatMessagePart {
	out := make([]goopenai.ChatMessagePart, 0, len(parts)+1)
	if text != "" {
		out = append(out, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: text})
	}
	for _, p := range parts {
		switch p.Type {
		case "image_url":
			out = append(out, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: p.URL},
			})
		default:
			out = append(out, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: p.Text})
		}
	}
	return out
}

func toAPITools(tools []llm.Tool) []goopenai.Tool {
	out := make([]goopenai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

func fromAPIToolCalls(calls []goopenai.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, tc := range calls {
		out[i] = llm.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: rawArguments(tc.Function.Arguments),
			},
		}
	}
	return out
}
