// internal/state/jsonl.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/turnloop/internal/types"
)

// maxLineSize bounds a single JSONL record; tool results can be large.
const maxLineSize = 16 << 20

// JSONLStore is a JSONL-backed append-only durable store.
// Messages are stored per conversation in conversations/<id>/messages.jsonl,
// checkpoints in conversations/<id>/checkpoints.jsonl.
type JSONLStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.ConversationID]*sync.Mutex
}

// NewJSONLStore creates a new file-backed JSONLStore rooted at the given directory.
func NewJSONLStore(root string) *JSONLStore {
	return &JSONLStore{
		root:  root,
		locks: make(map[types.ConversationID]*sync.Mutex),
	}
}

// getLock returns the per-conversation mutex, creating one if it doesn't exist.
func (s *JSONLStore) getLock(id types.ConversationID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func (s *JSONLStore) messagesPath(id types.ConversationID) string {
	return filepath.Join(s.root, "conversations", string(id), "messages.jsonl")
}

func (s *JSONLStore) checkpointsPath(id types.ConversationID) string {
	return filepath.Join(s.root, "conversations", string(id), "checkpoints.jsonl")
}

// appendLines marshals each record and appends it as one line. Caller must
// hold the conversation lock.
func appendLines[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	var buf []byte
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readLines decodes every line of a JSONL file, skipping the first skip
// records. A missing file yields no records. Caller must hold the lock.
func readLines[T any](path string, skip int) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		if line < skip {
			line++
			continue
		}
		line++
		var rec T
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// count reads the messages file and counts lines. Caller must hold the lock.
func (s *JSONLStore) count(id types.ConversationID) (int, error) {
	f, err := os.Open(s.messagesPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan messages file: %w", err)
	}
	return n, nil
}

// AppendMessage adds one message to the conversation log.
func (s *JSONLStore) AppendMessage(ctx context.Context, id types.ConversationID, msg types.Message) error {
	return s.AppendMany(ctx, id, []types.Message{msg})
}

// AppendMany adds messages to the conversation log in a single write.
func (s *JSONLStore) AppendMany(_ context.Context, id types.ConversationID, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	return appendLines(s.messagesPath(id), msgs)
}

// Messages returns the messages with absolute index >= from.
func (s *JSONLStore) Messages(_ context.Context, id types.ConversationID, from int) ([]types.Message, error) {
	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	if from < 0 {
		from = 0
	}
	return readLines[types.Message](s.messagesPath(id), from)
}

// Count returns the number of messages stored for the conversation.
func (s *JSONLStore) Count(_ context.Context, id types.ConversationID) (int, error) {
	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	return s.count(id)
}

// CreateCheckpoint appends a checkpoint. Its UpToIndex must be greater than
// that of the latest checkpoint.
func (s *JSONLStore) CreateCheckpoint(_ context.Context, cp *types.Checkpoint) error {
	lock := s.getLock(cp.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := readLines[types.Checkpoint](s.checkpointsPath(cp.ConversationID), 0)
	if err != nil {
		return err
	}
	if n := len(existing); n > 0 && cp.UpToIndex <= existing[n-1].UpToIndex {
		return fmt.Errorf("%w: %d <= %d", types.ErrCheckpointNotMonotonic, cp.UpToIndex, existing[n-1].UpToIndex)
	}
	if cp.ID == "" {
		cp.ID = types.NewCheckpointID()
	}
	return appendLines(s.checkpointsPath(cp.ConversationID), []*types.Checkpoint{cp})
}

// LatestCheckpoint returns the most recent checkpoint, or nil if none exist.
func (s *JSONLStore) LatestCheckpoint(ctx context.Context, id types.ConversationID) (*types.Checkpoint, error) {
	cps, err := s.Checkpoints(ctx, id)
	if err != nil || len(cps) == 0 {
		return nil, err
	}
	return cps[len(cps)-1], nil
}

// Checkpoints returns all checkpoints in creation order.
func (s *JSONLStore) Checkpoints(_ context.Context, id types.ConversationID) ([]*types.Checkpoint, error) {
	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	return readLines[*types.Checkpoint](s.checkpointsPath(id), 0)
}
