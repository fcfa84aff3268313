// internal/state/badger.go
package state

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/user/turnloop/internal/types"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is a durable store on an embedded BadgerDB.
//
// Key layout:
//
//	msg/<conversation>/<index %012d>  -> JSON message
//	cp/<conversation>/<upTo %012d>    -> JSON checkpoint
//	count/<conversation>              -> uint64 big endian
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a BadgerDB-backed store.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func msgKey(id types.ConversationID, idx int) []byte {
	return []byte(fmt.Sprintf("msg/%s/%012d", id, idx))
}

func msgPrefix(id types.ConversationID) []byte {
	return []byte(fmt.Sprintf("msg/%s/", id))
}

func cpKey(id types.ConversationID, upTo int) []byte {
	return []byte(fmt.Sprintf("cp/%s/%012d", id, upTo))
}

func cpPrefix(id types.ConversationID) []byte {
	return []byte(fmt.Sprintf("cp/%s/", id))
}

func countKey(id types.ConversationID) []byte {
	return []byte("count/" + string(id))
}

func readCount(txn *badger.Txn, id types.ConversationID) (int, error) {
	item, err := txn.Get(countKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt count for %s", id)
		}
		n = int(binary.BigEndian.Uint64(val))
		return nil
	})
	return n, err
}

// AppendMessage adds one message to the conversation log.
func (s *BadgerStore) AppendMessage(ctx context.Context, id types.ConversationID, msg types.Message) error {
	return s.AppendMany(ctx, id, []types.Message{msg})
}

// AppendMany adds messages atomically; either all are stored or none.
func (s *BadgerStore) AppendMany(_ context.Context, id types.ConversationID, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		n, err := readCount(txn, id)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("marshal message: %w", err)
			}
			if err := txn.Set(msgKey(id, n), data); err != nil {
				return err
			}
			n++
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return txn.Set(countKey(id), buf)
	})
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// Messages returns the messages with absolute index >= from.
func (s *BadgerStore) Messages(_ context.Context, id types.ConversationID, from int) ([]types.Message, error) {
	if from < 0 {
		from = 0
	}
	var out []types.Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := msgPrefix(id)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(msgKey(id, from)); it.ValidForPrefix(prefix); it.Next() {
			var m types.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return out, nil
}

// Count returns the number of messages stored for the conversation.
func (s *BadgerStore) Count(_ context.Context, id types.ConversationID) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = readCount(txn, id)
		return err
	})
	return n, err
}

// CreateCheckpoint stores a checkpoint whose UpToIndex must exceed the latest one.
func (s *BadgerStore) CreateCheckpoint(_ context.Context, cp *types.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = types.NewCheckpointID()
	}
	return s.db.Update(func(txn *badger.Txn) error {
		latest, err := latestCheckpoint(txn, cp.ConversationID)
		if err != nil {
			return err
		}
		if latest != nil && cp.UpToIndex <= latest.UpToIndex {
			return fmt.Errorf("%w: %d <= %d", types.ErrCheckpointNotMonotonic, cp.UpToIndex, latest.UpToIndex)
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		return txn.Set(cpKey(cp.ConversationID, cp.UpToIndex), data)
	})
}

func latestCheckpoint(txn *badger.Txn, id types.ConversationID) (*types.Checkpoint, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := cpPrefix(id)
	// Reverse iteration seeks to the largest key <= seek; 0xFF sorts after any digit.
	seek := append(append([]byte{}, prefix...), 0xFF)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return nil, nil
	}
	var cp types.Checkpoint
	if err := it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, &cp)
	}); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// LatestCheckpoint returns the most recent checkpoint, or nil if none exist.
func (s *BadgerStore) LatestCheckpoint(_ context.Context, id types.ConversationID) (*types.Checkpoint, error) {
	var cp *types.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		cp, err = latestCheckpoint(txn, id)
		return err
	})
	return cp, err
}

// Checkpoints returns all checkpoints ordered by UpToIndex.
func (s *BadgerStore) Checkpoints(_ context.Context, id types.ConversationID) ([]*types.Checkpoint, error) {
	var out []*types.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := cpPrefix(id)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cp types.Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return fmt.Errorf("decode checkpoint: %w", err)
			}
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}
