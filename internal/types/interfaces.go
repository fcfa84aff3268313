// internal/types/interfaces.go
package types

import (
	"context"
	"errors"
)

var (
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrCheckpointNotMonotonic = errors.New("checkpoint index must be greater than the previous checkpoint")
)

type ConversationStore interface {
	ResolveOrCreate(ctx context.Context, key ConversationKey) (ConversationID, error)
	Get(ctx context.Context, id ConversationID) (*ConversationIndex, error)
	Lookup(ctx context.Context, key ConversationKey) (*ConversationIndex, error)
	List(ctx context.Context) ([]*ConversationIndex, error)
	Update(ctx context.Context, conv *ConversationIndex) error
}

// DurableStore keeps every message of a conversation regardless of
// in-memory truncation, plus its checkpoints.
type DurableStore interface {
	AppendMessage(ctx context.Context, id ConversationID, msg Message) error
	AppendMany(ctx context.Context, id ConversationID, msgs []Message) error
	// Messages returns the messages with absolute index >= from.
	Messages(ctx context.Context, id ConversationID, from int) ([]Message, error)
	Count(ctx context.Context, id ConversationID) (int, error)
	CreateCheckpoint(ctx context.Context, cp *Checkpoint) error
	// LatestCheckpoint returns nil, nil when the conversation has none.
	LatestCheckpoint(ctx context.Context, id ConversationID) (*Checkpoint, error)
	Checkpoints(ctx context.Context, id ConversationID) ([]*Checkpoint, error)
}
