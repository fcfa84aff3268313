// internal/state/conversation.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/turnloop/internal/types"
)

// ConversationIndex is a JSON-file-backed conversation index.
// It stores the key to id mapping in conversations/conversations.json and
// creates per-conversation directories at conversations/<id>/.
type ConversationIndex struct {
	root string
	mu   sync.RWMutex
}

// NewConversationIndex creates a new file-backed ConversationIndex rooted at the given directory.
func NewConversationIndex(root string) *ConversationIndex {
	return &ConversationIndex{root: root}
}

func (s *ConversationIndex) indexPath() string {
	return filepath.Join(s.root, "conversations", "conversations.json")
}

func (s *ConversationIndex) conversationsDir() string {
	return filepath.Join(s.root, "conversations")
}

func (s *ConversationIndex) conversationDir(id types.ConversationID) string {
	return filepath.Join(s.root, "conversations", string(id))
}

// loadIndex reads conversations.json and returns a map keyed by ConversationKey.
func (s *ConversationIndex) loadIndex() (map[types.ConversationKey]*types.ConversationIndex, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.ConversationKey]*types.ConversationIndex), nil
		}
		return nil, fmt.Errorf("read conversation index: %w", err)
	}

	var convs []*types.ConversationIndex
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("unmarshal conversation index: %w", err)
	}

	index := make(map[types.ConversationKey]*types.ConversationIndex, len(convs))
	for _, c := range convs {
		index[c.ConversationKey] = c
	}
	return index, nil
}

// saveIndex converts the map to a slice, marshals with indentation, and writes atomically.
func (s *ConversationIndex) saveIndex(index map[types.ConversationKey]*types.ConversationIndex) error {
	convs := make([]*types.ConversationIndex, 0, len(index))
	for _, c := range index {
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })

	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation index: %w", err)
	}

	if err := os.MkdirAll(s.conversationsDir(), 0o755); err != nil {
		return fmt.Errorf("create conversations dir: %w", err)
	}
	return writeFileAtomic(s.indexPath(), data)
}

// writeFileAtomic writes to a temp file then renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ResolveOrCreate returns the ConversationID for the given key, creating a new conversation if needed.
func (s *ConversationIndex) ResolveOrCreate(_ context.Context, key types.ConversationKey) (types.ConversationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return "", err
	}

	if existing, ok := index[key]; ok {
		return existing.ConversationID, nil
	}

	now := time.Now()
	id := types.NewConversationID()
	index[key] = &types.ConversationIndex{
		ConversationID:  id,
		ConversationKey: key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.saveIndex(index); err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.conversationDir(id), 0o755); err != nil {
		return "", fmt.Errorf("create conversation dir: %w", err)
	}

	return id, nil
}

// Get returns the conversation with the given ID.
func (s *ConversationIndex) Get(_ context.Context, id types.ConversationID) (*types.ConversationIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	for _, c := range index {
		if c.ConversationID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrConversationNotFound, id)
}

// Lookup returns the conversation registered under key without creating one.
func (s *ConversationIndex) Lookup(_ context.Context, key types.ConversationKey) (*types.ConversationIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	c, ok := index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrConversationNotFound, key)
	}
	return c, nil
}

// List returns all conversations, oldest first.
func (s *ConversationIndex) List(_ context.Context) ([]*types.ConversationIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	convs := make([]*types.ConversationIndex, 0, len(index))
	for _, c := range index {
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })
	return convs, nil
}

// Update persists changes to the given conversation, setting UpdatedAt to now.
func (s *ConversationIndex) Update(_ context.Context, conv *types.ConversationIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	if _, ok := index[conv.ConversationKey]; !ok {
		return fmt.Errorf("%w: %s", types.ErrConversationNotFound, conv.ConversationKey)
	}

	conv.UpdatedAt = time.Now()
	index[conv.ConversationKey] = conv

	return s.saveIndex(index)
}
