// internal/checkpoint/scheduler.go
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ctxsel "github.com/user/turnloop/internal/context"
	"github.com/user/turnloop/internal/state"
	"github.com/user/turnloop/internal/types"
)

// Summarizer turns a serialized message slice into summary text.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, transcript string) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

// Scheduler decides when a conversation's in-memory history is folded into
// a checkpoint. One scheduler serves one conversation and is driven from the
// same sequential path as its turns.
type Scheduler struct {
	cfg          types.SummarizationConfig
	summarizer   Summarizer
	durable      types.DurableStore
	conversation types.ConversationID

	latest *types.Checkpoint
	now    func() time.Time
}

// NewScheduler creates a scheduler. durable may be nil, in which case
// checkpoints only live in memory. latest is the most recent persisted
// checkpoint, or nil.
func NewScheduler(cfg types.SummarizationConfig, summarizer Summarizer, durable types.DurableStore, id types.ConversationID, latest *types.Checkpoint) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Enabled && summarizer == nil {
		return nil, errors.New("summarization enabled without a summarizer")
	}
	return &Scheduler{
		cfg:          cfg,
		summarizer:   summarizer,
		durable:      durable,
		conversation: id,
		latest:       latest,
		now:          time.Now,
	}, nil
}

// LastIndex is the UpToIndex of the latest checkpoint, or 0.
func (s *Scheduler) LastIndex() int {
	if s.latest == nil {
		return 0
	}
	return s.latest.UpToIndex
}

// Latest returns the latest checkpoint, or nil.
func (s *Scheduler) Latest() *types.Checkpoint {
	return s.latest
}

// AfterTurn checkpoints the conversation when enough messages have
// accumulated in memory. It returns the new checkpoint, or nil when nothing
// was due. Errors are logged and returned for observability only; the store
// is left untouched on failure and the caller's turn is unaffected.
func (s *Scheduler) AfterTurn(ctx context.Context, store *state.MessageStore) (*types.Checkpoint, error) {
	if !s.cfg.Enabled || store.Len() < s.cfg.TriggerAt {
		return nil, nil
	}

	last := s.LastIndex()
	upTo := store.AbsLen() - s.cfg.KeepRecent
	if upTo <= last {
		return nil, nil
	}

	ctx, span := startCheckpointSpan(ctx, string(s.conversation), store.AbsLen())
	defer span.End()

	start := time.Now()
	cp, err := s.checkpoint(ctx, store, last, upTo)
	if err != nil {
		span.RecordError(err)
		recordOutcome(ctx, "failed", time.Since(start), 0)
		slog.Warn("checkpoint failed",
			"conversation", s.conversation,
			"up_to", upTo,
			"error", err,
		)
		return nil, err
	}
	recordOutcome(ctx, "created", time.Since(start), upTo-last)

	s.latest = cp
	store.TruncateFrom(upTo)
	slog.Info("checkpoint created",
		"conversation", s.conversation,
		"up_to", upTo,
		"in_memory", store.Len(),
	)
	return cp, nil
}

func (s *Scheduler) checkpoint(ctx context.Context, store *state.MessageStore, last, upTo int) (*types.Checkpoint, error) {
	slice := store.Range(last, upTo)
	filtered := ctxsel.FilterToolResults(slice, s.cfg.ToolResults)

	var previous string
	if s.latest != nil {
		previous = s.latest.Summary
	}
	transcript, err := Transcript(previous, filtered)
	if err != nil {
		return nil, err
	}

	raw, err := s.summarizer.Summarize(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	summary := ParseSummary(raw)
	if summary == "" {
		return nil, errors.New("summarize: empty summary")
	}

	cp := &types.Checkpoint{
		ID:             types.NewCheckpointID(),
		ConversationID: s.conversation,
		UpToIndex:      upTo,
		Summary:        summary,
		CreatedAt:      s.now(),
		Metadata: map[string]any{
			"originalCount": len(slice),
			"filteredCount": countFiltered(slice, filtered),
			"keepRecent":    s.cfg.KeepRecent,
		},
	}
	if s.durable != nil {
		if err := s.durable.CreateCheckpoint(ctx, cp); err != nil {
			return nil, fmt.Errorf("persist checkpoint: %w", err)
		}
	}
	return cp, nil
}

// transcriptLine is the per-message record handed to the summarizer.
type transcriptLine struct {
	Role         types.Role `json:"role"`
	Text         string     `json:"text"`
	HasToolCalls bool       `json:"has_tool_calls"`
	IsToolResult bool       `json:"is_tool_result"`
}

// Transcript serializes msgs as JSON lines. A non-empty previous summary is
// emitted first as a "summary" record so successive checkpoints stay
// cumulative.
func Transcript(previous string, msgs []types.Message) (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	if previous != "" {
		if err := enc.Encode(transcriptLine{Role: "summary", Text: previous}); err != nil {
			return "", fmt.Errorf("encode transcript: %w", err)
		}
	}
	for _, m := range msgs {
		line := transcriptLine{
			Role:         m.Role,
			Text:         m.Text,
			HasToolCalls: len(m.ToolCalls) > 0,
			IsToolResult: m.Role == types.RoleTool,
		}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("encode transcript: %w", err)
		}
	}
	return b.String(), nil
}

// ParseSummary accepts either {"summary": "..."} or plain text.
func ParseSummary(raw string) string {
	raw = strings.TrimSpace(raw)
	var obj struct {
		Summary *string `json:"summary"`
	}
	if strings.HasPrefix(raw, "{") && json.Unmarshal([]byte(raw), &obj) == nil && obj.Summary != nil {
		return strings.TrimSpace(*obj.Summary)
	}
	return raw
}

func countFiltered(before, after []types.Message) int {
	n := 0
	for i := range before {
		if before[i].Text != after[i].Text {
			n++
		}
	}
	return n
}
