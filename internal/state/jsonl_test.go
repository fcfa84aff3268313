// internal/state/jsonl_test.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/turnloop/internal/types"
)

// durableStoreContract exercises behavior every DurableStore must share.
func durableStoreContract(t *testing.T, store types.DurableStore) {
	t.Helper()
	ctx := context.Background()
	id := types.NewConversationID()

	n, err := store.Count(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cp, err := store.LatestCheckpoint(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, store.AppendMessage(ctx, id, types.UserMessage("run echo")))
	require.NoError(t, store.AppendMany(ctx, id, []types.Message{
		types.AssistantMessage("", types.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"x":1}`)}),
		types.ToolResultMessage("c1", "1"),
		types.AssistantMessage("done"),
	}))
	require.NoError(t, store.AppendMany(ctx, id, nil))

	n, err = store.Count(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	all, err := store.Messages(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, types.RoleUser, all[0].Role)
	assert.Equal(t, "echo", all[1].ToolCalls[0].Name)
	assert.JSONEq(t, `{"x":1}`, string(all[1].ToolCalls[0].Arguments))
	assert.Equal(t, "c1", all[2].ToolCallID)

	tail, err := store.Messages(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "1", tail[0].Text)

	first := &types.Checkpoint{ConversationID: id, UpToIndex: 2, Summary: "first", CreatedAt: time.Now()}
	require.NoError(t, store.CreateCheckpoint(ctx, first))
	assert.NotEmpty(t, first.ID)

	err = store.CreateCheckpoint(ctx, &types.Checkpoint{ConversationID: id, UpToIndex: 2, Summary: "dup"})
	assert.True(t, errors.Is(err, types.ErrCheckpointNotMonotonic), "expected ErrCheckpointNotMonotonic, got %v", err)
	err = store.CreateCheckpoint(ctx, &types.Checkpoint{ConversationID: id, UpToIndex: 1, Summary: "older"})
	assert.True(t, errors.Is(err, types.ErrCheckpointNotMonotonic), "expected ErrCheckpointNotMonotonic, got %v", err)

	require.NoError(t, store.CreateCheckpoint(ctx, &types.Checkpoint{
		ConversationID: id, UpToIndex: 3, Summary: "second",
		Metadata: map[string]any{"keepRecent": 1},
	}))

	latest, err := store.LatestCheckpoint(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.UpToIndex)
	assert.Equal(t, "second", latest.Summary)

	cps, err := store.Checkpoints(ctx, id)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Less(t, cps[0].UpToIndex, cps[1].UpToIndex)

	// Other conversations are isolated.
	other, err := store.Messages(ctx, types.NewConversationID(), 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestJSONLStore(t *testing.T) {
	durableStoreContract(t, NewJSONLStore(t.TempDir()))
}

func TestJSONLStoreLargeRecord(t *testing.T) {
	store := NewJSONLStore(t.TempDir())
	ctx := context.Background()
	id := types.NewConversationID()

	big := strings.Repeat("x", 200*1024)
	require.NoError(t, store.AppendMessage(ctx, id, types.ToolResultMessage("c1", big)))

	msgs, err := store.Messages(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].Text, len(big))
}
