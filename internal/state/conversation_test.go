// internal/state/conversation_test.go
package state

import (
	"context"
	"errors"
	"testing"

	"github.com/user/turnloop/internal/types"
)

func TestConversationIndex(t *testing.T) {
	dir := t.TempDir()
	store := NewConversationIndex(dir)
	ctx := context.Background()

	key := types.NewConversationKey("test", "123")
	id, err := store.ResolveOrCreate(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("expected non-empty conversation ID")
	}

	conv, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if conv.ConversationKey != key {
		t.Errorf("expected key %s, got %s", key, conv.ConversationKey)
	}

	id2, err := store.ResolveOrCreate(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if id != id2 {
		t.Error("expected same conversation ID for same key")
	}
}

func TestConversationIndexLookupMissing(t *testing.T) {
	store := NewConversationIndex(t.TempDir())
	_, err := store.Lookup(context.Background(), "nope")
	if !errors.Is(err, types.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestConversationIndexUpdateAndList(t *testing.T) {
	store := NewConversationIndex(t.TempDir())
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		if _, err := store.ResolveOrCreate(ctx, types.NewConversationKey("test", k)); err != nil {
			t.Fatal(err)
		}
	}

	conv, err := store.Lookup(ctx, types.NewConversationKey("test", "a"))
	if err != nil {
		t.Fatal(err)
	}
	conv.LastRunID = types.NewRunID()
	if err := store.Update(ctx, conv); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}
	reloaded, err := store.Get(ctx, conv.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.LastRunID != conv.LastRunID {
		t.Errorf("expected LastRunID %s, got %s", conv.LastRunID, reloaded.LastRunID)
	}
}
