package runtime

import (
	"encoding/json"
	"strings"

	"github.com/user/turnloop/internal/types"
	"github.com/user/turnloop/pkg/llm"
)

// toLLMMessages converts selected history to the provider format. Rich
// content on user messages becomes parts; on tool messages it is rendered
// into the text body since providers only accept text tool results.
func toLLMMessages(msgs []types.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llm.Message{
			Role:       string(m.Role),
			Content:    m.Text,
			ToolCallID: m.ToolCallID,
		}
		switch m.Role {
		case types.RoleTool:
			lm.Content = renderContent(m.Text, m.Content)
		default:
			for _, c := range m.Content {
				lm.Parts = append(lm.Parts, llm.Part{Type: c.Type, Text: c.Text, URL: c.URL})
			}
		}
		for _, tc := range m.ToolCalls {
			lm.Tools = append(lm.Tools, llm.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, lm)
	}
	return out
}

func renderContent(text string, items []types.ContentItem) string {
	if len(items) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	for _, c := range items {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		switch c.Type {
		case types.ContentImage:
			b.WriteString("[image: " + c.URL + "]")
		default:
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// fromLLMToolCalls converts provider tool calls, assigning ids to calls that
// arrived without one.
func fromLLMToolCalls(calls []llm.ToolCall) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, len(calls))
	for i, tc := range calls {
		id := tc.ID
		if id == "" {
			id = types.NewToolCallID()
		}
		out[i] = types.ToolCall{ID: id, Name: tc.Function.Name, Arguments: storableArguments(tc.Function.Arguments)}
	}
	return out
}

// storableArguments wraps argument text that is not valid JSON in a JSON
// string, so the assistant message can always be persisted.
func storableArguments(args json.RawMessage) json.RawMessage {
	if len(args) == 0 || json.Valid(args) {
		return args
	}
	quoted, _ := json.Marshal(string(args))
	return quoted
}
