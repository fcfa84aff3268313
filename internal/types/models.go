// internal/types/models.go
package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// CompleteTaskTool is the reserved tool name whose result ends an
// autonomous task. Its result text is surfaced as TurnResult.CompletionSignal.
const CompleteTaskTool = "complete_task"

// ContentItem is a rich content part attached to a message.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

const (
	ContentText  = "text"
	ContentImage = "image_url"
)

// ToolCall is a tool invocation requested by the assistant. Arguments are
// passed through to the tool untouched.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is a single entry of a conversation. Messages are never mutated
// after they are appended.
type Message struct {
	Role       Role          `json:"role"`
	Text       string        `json:"text"`
	Content    []ContentItem `json:"content,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

func UserMessage(text string, attachments ...ContentItem) Message {
	return Message{Role: RoleUser, Text: text, Content: attachments, CreatedAt: time.Now()}
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Text: text, CreatedAt: time.Now()}
}

func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Text: text, ToolCalls: calls, CreatedAt: time.Now()}
}

func ToolResultMessage(callID, text string, extra ...ContentItem) Message {
	return Message{Role: RoleTool, Text: text, ToolCallID: callID, Content: extra, CreatedAt: time.Now()}
}

// Clone returns a copy of m that shares no slices with it.
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		out.Content = append([]ContentItem(nil), m.Content...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc
			if tc.Arguments != nil {
				out.ToolCalls[i].Arguments = append(json.RawMessage(nil), tc.Arguments...)
			}
		}
	}
	return out
}

// Equivalent reports whether two messages carry the same conversational
// content. Timestamps are ignored.
func (m Message) Equivalent(o Message) bool {
	if m.Role != o.Role || m.Text != o.Text || m.ToolCallID != o.ToolCallID {
		return false
	}
	if len(m.Content) != len(o.Content) || len(m.ToolCalls) != len(o.ToolCalls) {
		return false
	}
	for i := range m.Content {
		if m.Content[i] != o.Content[i] {
			return false
		}
	}
	for i := range m.ToolCalls {
		a, b := m.ToolCalls[i], o.ToolCalls[i]
		if a.ID != b.ID || a.Name != b.Name || !bytes.Equal(a.Arguments, b.Arguments) {
			return false
		}
	}
	return true
}

// Checkpoint summarizes the conversation prefix [0, UpToIndex). Indices are
// absolute positions in the durable message log.
type Checkpoint struct {
	ID             CheckpointID   `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	UpToIndex      int            `json:"up_to_index"`
	Summary        string         `json:"summary"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// TurnResult is the outcome of one ExecuteTurn call. Failures are reported
// in-band through Success and Error.
type TurnResult struct {
	Response           string  `json:"response"`
	ToolRoundsExecuted int     `json:"tool_rounds_executed"`
	CompletionSignal   *string `json:"completion_signal,omitempty"`
	Success            bool    `json:"success"`
	Error              string  `json:"error,omitempty"`
}

type ConversationIndex struct {
	ConversationID  ConversationID  `json:"conversation_id"`
	ConversationKey ConversationKey `json:"conversation_key"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastRunID       RunID           `json:"last_run_id,omitempty"`
}
