package gateway

import (
	"context"
	"time"

	"github.com/user/turnloop/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one queued turn of a conversation: either new user input or the
// answer to a paused UI tool call.
type Run struct {
	ID             types.RunID
	ConversationID types.ConversationID
	Key            types.ConversationKey
	Text           string
	Attachments    []types.ContentItem

	// ResumeCallID, when set, makes Text the answer to that UI tool call.
	ResumeCallID string

	Status    RunStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Result    *types.TurnResult

	Ctx        context.Context
	OnComplete func(result types.TurnResult)
}

// NewRun creates a Run in the Queued state.
func NewRun(id types.ConversationID, key types.ConversationKey, text string) *Run {
	return &Run{
		ID:             types.NewRunID(),
		ConversationID: id,
		Key:            key,
		Text:           text,
		Status:         RunStatusQueued,
		CreatedAt:      time.Now(),
	}
}

func (r *Run) start() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// finish records the result and notifies OnComplete.
func (r *Run) finish(result types.TurnResult) {
	now := time.Now()
	r.EndedAt = &now
	r.Result = &result
	if result.Success {
		r.Status = RunStatusComplete
	} else {
		r.Status = RunStatusFailed
	}
	if r.OnComplete != nil {
		r.OnComplete(result)
	}
}
