package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/user/turnloop/internal/types"
	"github.com/user/turnloop/pkg/llm"
)

// Tool defines the interface for an executable tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// UITool is implemented by tools that are resolved by an external actor
// (usually a human) instead of being executed by the engine. A turn pauses
// when the model calls one.
type UITool interface {
	Tool
	UI() bool
}

// ContentTool is implemented by tools that return rich content next to
// their text result. The engine calls ExecuteContent instead of Execute.
type ContentTool interface {
	Tool
	ExecuteContent(ctx context.Context, args json.RawMessage) (string, []types.ContentItem, error)
}

// ErrUIToolExecuted is returned by UI tools when something executes them
// directly.
var ErrUIToolExecuted = errors.New("ui tool must be answered by the caller")

// UIAction declares a UI tool from its schema alone.
type UIAction struct {
	ActionName        string
	ActionDescription string
	Schema            json.RawMessage
}

func (a *UIAction) Name() string                { return a.ActionName }
func (a *UIAction) Description() string         { return a.ActionDescription }
func (a *UIAction) Parameters() json.RawMessage { return a.Schema }
func (a *UIAction) UI() bool                    { return true }

func (a *UIAction) Execute(context.Context, json.RawMessage) (string, error) {
	return "", ErrUIToolExecuted
}

// Registry holds registered tools and provides lookup.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tools to the registry. A later tool with the same name
// replaces the earlier one.
func (r *Registry) Register(tools ...Tool) {
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// IsUI reports whether name is a registered UI tool.
func (r *Registry) IsUI(name string) bool {
	t, ok := r.tools[name]
	if !ok {
		return false
	}
	ui, ok := t.(UITool)
	return ok && ui.UI()
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Schemas converts registered tools to the LLM provider format, sorted by
// name so requests are stable across calls.
func (r *Registry) Schemas() []llm.Tool {
	all := r.All()
	if len(all) == 0 {
		return nil
	}
	out := make([]llm.Tool, 0, len(all))
	for _, t := range all {
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}
