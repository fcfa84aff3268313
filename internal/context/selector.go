// internal/context/selector.go
package context

import (
	"strings"

	"github.com/user/turnloop/internal/types"
)

const (
	// ToolResultPlaceholder replaces the body of filtered tool results.
	ToolResultPlaceholder = "[tool result omitted to save context]"

	// SummarizedPlaceholder is the synthetic user message inserted when the
	// selected history would otherwise start with a non-user message.
	SummarizedPlaceholder = "[previous context summarized]"

	summaryHeader = "[Conversation summary]\n"
)

// Select shapes the in-memory history into the context sent to the model.
// history[i] has absolute index offset+i. It never modifies its input.
//
//  1. Checkpoint substitution: non-system messages inside [0, cp.UpToIndex)
//     are dropped and the summary is merged into the leading system message.
//  2. Tool results whose owning assistant call is not part of the selection
//     are dropped.
//  3. Tool-result filtering per cfg.
//  4. A user placeholder is inserted if the first non-system message is not
//     from the user.
func Select(history []types.Message, offset int, cp *types.Checkpoint, cfg types.ToolResultFilterConfig) []types.Message {
	var (
		leading []types.Message
		body    []types.Message
	)
	for i, m := range history {
		if m.Role == types.RoleSystem && len(body) == 0 {
			leading = append(leading, m.Clone())
			continue
		}
		if cp != nil && m.Role != types.RoleSystem && offset+i < cp.UpToIndex {
			continue
		}
		body = append(body, m.Clone())
	}

	if cp != nil {
		leading = mergeSummary(leading, cp.Summary)
	}
	body = dropOrphanResults(body)
	body = FilterToolResults(body, cfg)

	out := make([]types.Message, 0, len(leading)+len(body)+1)
	out = append(out, leading...)
	for i, m := range body {
		if m.Role == types.RoleSystem {
			continue
		}
		if m.Role != types.RoleUser {
			out = append(out, body[:i]...)
			out = append(out, types.Message{Role: types.RoleUser, Text: SummarizedPlaceholder, CreatedAt: m.CreatedAt})
			out = append(out, body[i:]...)
			return out
		}
		break
	}
	return append(out, body...)
}

// mergeSummary folds the checkpoint summary and any leading system
// messages into a single system message.
func mergeSummary(leading []types.Message, summary string) []types.Message {
	parts := make([]string, 0, len(leading)+1)
	var merged types.Message
	for i, m := range leading {
		if i == 0 {
			merged = m
		}
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	parts = append(parts, summaryHeader+summary)
	merged.Role = types.RoleSystem
	merged.Text = strings.Join(parts, "\n\n")
	merged.Content = nil
	return []types.Message{merged}
}

// dropOrphanResults removes tool messages whose call id was not emitted by
// an earlier assistant message in msgs.
func dropOrphanResults(msgs []types.Message) []types.Message {
	owned := make(map[string]bool)
	out := msgs[:0:0]
	for _, m := range msgs {
		switch m.Role {
		case types.RoleAssistant:
			for _, tc := range m.ToolCalls {
				owned[tc.ID] = true
			}
		case types.RoleTool:
			if !owned[m.ToolCallID] {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// FilterToolResults keeps the bodies of the newest cfg.KeepRecentCount tool
// messages and replaces older bodies with ToolResultPlaceholder. Roles, tool
// call ids and every non-tool message are left untouched. A KeepRecentCount
// of 0 disables filtering. The function is idempotent.
func FilterToolResults(msgs []types.Message, cfg types.ToolResultFilterConfig) []types.Message {
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	if cfg.KeepRecentCount <= 0 {
		return out
	}

	total := 0
	for _, m := range out {
		if m.Role == types.RoleTool {
			total++
		}
	}
	toFilter := total - cfg.KeepRecentCount
	if toFilter <= 0 {
		return out
	}

	for i, m := range out {
		if toFilter == 0 {
			break
		}
		if m.Role != types.RoleTool {
			continue
		}
		filtered := m.Clone()
		filtered.Text = ToolResultPlaceholder
		filtered.Content = nil
		out[i] = filtered
		toFilter--
	}
	return out
}

// Selector applies Select with a fixed filter config and reports the token
// estimate of what it selected.
type Selector struct {
	Filter    types.ToolResultFilterConfig
	Estimator *Estimator
}

// NewSelector creates a selector. A nil estimator uses the heuristic count.
func NewSelector(cfg types.ToolResultFilterConfig, est *Estimator) *Selector {
	if est == nil {
		est = NewEstimator("")
	}
	return &Selector{Filter: cfg, Estimator: est}
}

// Select shapes history and returns the selected context with its
// estimated token count.
func (s *Selector) Select(history []types.Message, offset int, cp *types.Checkpoint) ([]types.Message, int) {
	out := Select(history, offset, cp, s.Filter)
	return out, s.Estimator.Count(out)
}
