package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	ctxsel "github.com/user/turnloop/internal/context"
	"github.com/user/turnloop/internal/state"
	"github.com/user/turnloop/internal/types"
	"github.com/user/turnloop/internal/validate"
	"github.com/user/turnloop/pkg/llm"
)

// DefaultMaxToolRounds bounds the tool loop when Options leaves it unset.
const DefaultMaxToolRounds = 10

// Options configures an Engine.
type Options struct {
	// MaxToolRounds caps tool rounds per turn. Zero means DefaultMaxToolRounds.
	MaxToolRounds int

	// ToolResults controls placeholder filtering of old tool results.
	ToolResults types.ToolResultFilterConfig

	// SystemPrompt is prepended to every context. It is not stored in the
	// conversation.
	SystemPrompt string

	// RepairHistory runs validate.Fix on each selected context. When false
	// the context is only validated and violations are logged.
	RepairHistory bool

	// Sanitize post-processes assistant text before it is stored.
	Sanitize func(string) string

	// Checkpoint returns the latest checkpoint of the conversation, or nil.
	Checkpoint func() *types.Checkpoint

	// Estimator counts context tokens. Nil uses the heuristic.
	Estimator *ctxsel.Estimator
}

// Engine runs turns of one conversation. It owns the in-memory message
// store and must not be used by concurrent ExecuteTurn calls.
type Engine struct {
	provider llm.Provider
	registry *Registry
	store    *state.MessageStore
	selector *ctxsel.Selector
	opts     Options
}

// New creates an Engine. A nil registry means no tools; a nil store starts
// an empty conversation.
func New(provider llm.Provider, registry *Registry, store *state.MessageStore, opts Options) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if store == nil {
		store = state.NewMessageStore(0)
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Engine{
		provider: provider,
		registry: registry,
		store:    store,
		selector: ctxsel.NewSelector(opts.ToolResults, opts.Estimator),
		opts:     opts,
	}
}

// Store exposes the message store so callers can persist new entries.
func (e *Engine) Store() *state.MessageStore {
	return e.store
}

// ExecuteTurn appends the user message and runs the tool loop until the
// model answers without tool calls, a UI tool pauses the turn, or the round
// limit is reached. Failures are reported in the result, never returned.
func (e *Engine) ExecuteTurn(ctx context.Context, userText string, attachments ...types.ContentItem) types.TurnResult {
	// A new turn abandons calls left open by an earlier UI pause.
	for _, tc := range e.PendingCalls() {
		e.store.Append(types.ToolResultMessage(tc.ID, "error: call was not answered"))
	}

	user := types.UserMessage(userText, attachments...)
	last, ok := e.store.Last()
	switch {
	case ok && last.Equivalent(user):
		// Retry of a turn whose user message is already stored.
	case ok && last.Role == types.RoleUser:
		// The previous turn failed before the model answered.
		e.store.Append(types.AssistantMessage(validate.NoResponsePlaceholder))
		e.store.Append(user)
	default:
		e.store.Append(user)
	}
	return e.run(ctx, nil, false)
}

// Resume answers a paused UI tool call and continues the turn. Calls of the
// same batch that were not yet executed run first, in order.
// An id that is not pending fails without touching the store.
func (e *Engine) Resume(ctx context.Context, callID, result string, content ...types.ContentItem) types.TurnResult {
	if !slices.ContainsFunc(e.PendingCalls(), func(tc types.ToolCall) bool { return tc.ID == callID }) {
		slog.Warn("resume rejected", "call_id", callID)
		return types.TurnResult{Error: fmt.Sprintf("no pending call with id %q", callID)}
	}
	e.store.Append(types.ToolResultMessage(callID, result, content...))
	return e.run(ctx, e.PendingCalls(), true)
}

// PendingCalls returns the tool calls of the latest assistant message that
// have no result yet.
func (e *Engine) PendingCalls() []types.ToolCall {
	msgs := e.store.Messages()
	answered := make(map[string]bool)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		switch m.Role {
		case types.RoleTool:
			answered[m.ToolCallID] = true
		case types.RoleAssistant:
			var pending []types.ToolCall
			for _, tc := range m.ToolCalls {
				if !answered[tc.ID] {
					pending = append(pending, tc)
				}
			}
			return pending
		default:
			return nil
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, pending []types.ToolCall, resumed bool) (result types.TurnResult) {
	ctx, span := startTurnSpan(ctx, resumed)
	defer span.End()

	start := time.Now()
	defer func() {
		setTurnSpanResult(span, result.ToolRoundsExecuted, result.Success)
		recordTurn(ctx, time.Since(start), result.ToolRoundsExecuted, result.Success)
	}()

	tools := e.registry.Schemas()
	validated := false

	// A resumed turn completes the round its UI call paused.
	for first := true; ; first = false {
		if len(pending) > 0 || (first && resumed) {
			paused, signal := e.executeTools(ctx, pending)
			if signal != nil {
				result.CompletionSignal = signal
			}
			if paused {
				result.Success = true
				return result
			}
			result.ToolRoundsExecuted++
			if result.ToolRoundsExecuted >= e.opts.MaxToolRounds {
				slog.Info("tool round limit reached", "rounds", result.ToolRoundsExecuted)
				result.Success = true
				return result
			}
		}

		msgs := e.buildContext(ctx, !validated)
		validated = true

		msg, err := e.complete(ctx, msgs, tools)
		if err != nil {
			span.RecordError(err)
			slog.Warn("turn failed", "error", err, "rounds", result.ToolRoundsExecuted)
			result.Success = false
			result.Error = flattenError(err)
			return result
		}
		e.store.Append(msg)
		result.Response = msg.Text

		if len(msg.ToolCalls) == 0 {
			result.Success = true
			return result
		}
		pending = msg.ToolCalls
	}
}

// buildContext selects history for the next completion call and applies
// structural repair or validation.
func (e *Engine) buildContext(ctx context.Context, diagnose bool) []types.Message {
	var cp *types.Checkpoint
	if e.opts.Checkpoint != nil {
		cp = e.opts.Checkpoint()
	}
	msgs, tokens := e.selector.Select(e.store.Messages(), e.store.Offset(), cp)
	recordContextTokens(ctx, tokens)

	if e.opts.RepairHistory {
		fixed := validate.Fix(msgs)
		if len(fixed) != len(msgs) {
			slog.Warn("history repaired", "before", len(msgs), "after", len(fixed))
		}
		msgs = fixed
	} else if diagnose {
		if ok, violations := validate.Validate(msgs); !ok {
			for _, v := range violations {
				slog.Warn("history violation", "violation", v.String())
			}
		}
	}

	if e.opts.SystemPrompt != "" {
		if len(msgs) > 0 && msgs[0].Role == types.RoleSystem {
			msgs[0].Text = e.opts.SystemPrompt + "\n\n" + msgs[0].Text
		} else {
			msgs = append([]types.Message{types.SystemMessage(e.opts.SystemPrompt)}, msgs...)
		}
	}
	slog.Debug("context selected", "messages", len(msgs), "tokens", tokens)
	return msgs
}

// complete calls the provider and drains its stream into one assistant
// message. Nothing is returned when the stream fails or ctx is cancelled.
func (e *Engine) complete(ctx context.Context, msgs []types.Message, tools []llm.Tool) (types.Message, error) {
	stream, err := e.provider.Stream(ctx, toLLMMessages(msgs), tools)
	if err != nil {
		return types.Message{}, fmt.Errorf("LLM call: %w", err)
	}
	resp, err := llm.Drain(ctx, stream)
	if err != nil {
		return types.Message{}, fmt.Errorf("LLM call: %w", err)
	}

	text := resp.Content
	if e.opts.Sanitize != nil {
		text = e.opts.Sanitize(text)
	}
	return types.AssistantMessage(text, fromLLMToolCalls(resp.ToolCalls)...), nil
}

// executeTools runs calls in emission order and appends their results. It
// stops before the first UI tool and reports paused.
func (e *Engine) executeTools(ctx context.Context, calls []types.ToolCall) (paused bool, signal *string) {
	for _, tc := range calls {
		if e.registry.IsUI(tc.Name) {
			slog.Info("turn paused for ui tool", "tool", tc.Name, "call_id", tc.ID)
			return true, signal
		}

		text, content, ok := e.invoke(ctx, tc)
		if ok && tc.Name == types.CompleteTaskTool {
			s := text
			signal = &s
		}
		e.store.Append(types.ToolResultMessage(tc.ID, text, content...))
	}
	return false, signal
}

// invoke executes one tool call. Unknown tools and tool errors become error
// text for the model and report ok as false.
func (e *Engine) invoke(ctx context.Context, tc types.ToolCall) (string, []types.ContentItem, bool) {
	tool, ok := e.registry.Get(tc.Name)
	if !ok {
		recordToolCall(ctx, tc.Name, "unknown")
		slog.Warn("unknown tool", "tool", tc.Name)
		return fmt.Sprintf("error: unknown tool %q", tc.Name), nil, false
	}

	args := tc.Arguments
	if len(args) == 0 {
		args = []byte("{}")
	}

	var (
		text    string
		content []types.ContentItem
		err     error
	)
	if ct, ok := tool.(ContentTool); ok {
		text, content, err = ct.ExecuteContent(ctx, args)
	} else {
		text, err = tool.Execute(ctx, args)
	}
	if err != nil {
		recordToolCall(ctx, tc.Name, "error")
		slog.Warn("tool failed", "tool", tc.Name, "error", err)
		return fmt.Sprintf("error: %v", err), nil, false
	}
	recordToolCall(ctx, tc.Name, "ok")
	return text, content, true
}

// flattenError renders an error chain, including joined errors, on one line.
func flattenError(err error) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(err.Error(), "\n", "; ")), " ")
}
