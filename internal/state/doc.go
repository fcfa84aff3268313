// Package state provides the in-memory message log and the durable
// conversation stores (JSONL files and BadgerDB).
package state

import "github.com/user/turnloop/internal/types"

// Compile-time interface compliance checks.
var _ types.ConversationStore = (*ConversationIndex)(nil)
var _ types.DurableStore = (*JSONLStore)(nil)
var _ types.DurableStore = (*BadgerStore)(nil)
