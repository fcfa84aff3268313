// internal/validate/validate.go
package validate

import (
	"fmt"

	"github.com/user/turnloop/internal/types"
)

// NoResponsePlaceholder is the assistant text Fix inserts between two
// consecutive user messages.
const NoResponsePlaceholder = "[no response]"

// Kind classifies a structural violation.
type Kind string

const (
	ViolationFirstNotUser     Kind = "first_not_user"
	ViolationAlternation      Kind = "alternation"
	ViolationOrphanToolResult Kind = "orphan_tool_result"
)

// Violation describes one structural problem at a message index.
type Violation struct {
	Kind   Kind
	Index  int
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s at %d: %s", v.Kind, v.Index, v.Detail)
}

// Validate checks that, ignoring system messages, the history starts with a
// user message and user/assistant roles alternate, and that every tool
// message answers a call made by an earlier assistant message.
//
// An assistant message may follow another assistant message only when tool
// results sit between them, which is how a tool round looks.
func Validate(msgs []types.Message) (bool, []Violation) {
	var (
		out       []Violation
		last      types.Role
		afterTool bool
		calls     = make(map[string]bool)
	)

	for i, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			continue

		case types.RoleTool:
			if !calls[m.ToolCallID] {
				out = append(out, Violation{
					Kind:   ViolationOrphanToolResult,
					Index:  i,
					Detail: fmt.Sprintf("no assistant call with id %q", m.ToolCallID),
				})
				continue
			}
			afterTool = true

		case types.RoleUser:
			if last == types.RoleUser {
				out = append(out, Violation{Kind: ViolationAlternation, Index: i, Detail: "consecutive user messages"})
			}
			last, afterTool = types.RoleUser, false

		case types.RoleAssistant:
			switch {
			case last == "":
				out = append(out, Violation{Kind: ViolationFirstNotUser, Index: i, Detail: "history starts with assistant"})
			case last == types.RoleAssistant && !afterTool:
				out = append(out, Violation{Kind: ViolationAlternation, Index: i, Detail: "consecutive assistant messages"})
			}
			for _, tc := range m.ToolCalls {
				calls[tc.ID] = true
			}
			last, afterTool = types.RoleAssistant, false
		}
	}
	return len(out) == 0, out
}

// Fix repairs a history in one forward pass:
//   - an assistant message that would directly follow another assistant (or
//     open the history) is dropped;
//   - an assistant placeholder is inserted between two consecutive user
//     messages;
//   - tool messages whose call did not survive the pass are dropped.
//
// Valid histories come back unchanged. The input is not modified.
func Fix(msgs []types.Message) []types.Message {
	var (
		out       = make([]types.Message, 0, len(msgs))
		last      types.Role
		afterTool bool
		calls     = make(map[string]bool)
	)

	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, m.Clone())

		case types.RoleTool:
			if !calls[m.ToolCallID] {
				continue
			}
			out = append(out, m.Clone())
			afterTool = true

		case types.RoleUser:
			if last == types.RoleUser {
				out = append(out, types.Message{Role: types.RoleAssistant, Text: NoResponsePlaceholder, CreatedAt: m.CreatedAt})
			}
			out = append(out, m.Clone())
			last, afterTool = types.RoleUser, false

		case types.RoleAssistant:
			if last == "" || (last == types.RoleAssistant && !afterTool) {
				continue
			}
			for _, tc := range m.ToolCalls {
				calls[tc.ID] = true
			}
			out = append(out, m.Clone())
			last, afterTool = types.RoleAssistant, false

		default:
			out = append(out, m.Clone())
		}
	}
	return out
}
