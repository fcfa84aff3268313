// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ConversationKey string
type ConversationID string
type CheckpointID string
type RunID string

func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

func NewCheckpointID() CheckpointID {
	return CheckpointID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// NewToolCallID returns an id for a tool call the provider emitted without one.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func NewConversationKey(parts ...string) ConversationKey {
	return ConversationKey(strings.Join(parts, ":"))
}
