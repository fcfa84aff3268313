// internal/state/messages.go
package state

import (
	"github.com/user/turnloop/internal/types"
)

// Stats are simple aggregates over the in-memory messages.
type Stats struct {
	Total     int
	ByRole    map[types.Role]int
	ToolCalls int
	Chars     int
}

// MessageStore is the in-memory, append-only message log of one
// conversation. Checkpoint truncation drops a prefix; Offset records how many
// messages were dropped so absolute indices stay stable.
//
// MessageStore is not safe for concurrent use. Turns on one conversation
// must be serialized by the caller.
type MessageStore struct {
	offset   int
	messages []types.Message
}

// NewMessageStore creates a store whose first message has absolute index offset.
func NewMessageStore(offset int, msgs ...types.Message) *MessageStore {
	s := &MessageStore{offset: offset}
	s.Append(msgs...)
	return s
}

// Append adds messages to the end of the log.
func (s *MessageStore) Append(msgs ...types.Message) {
	for _, m := range msgs {
		s.messages = append(s.messages, m.Clone())
	}
}

// Messages returns a copy of the in-memory messages.
func (s *MessageStore) Messages() []types.Message {
	out := make([]types.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Last returns the most recent message.
func (s *MessageStore) Last() (types.Message, bool) {
	if len(s.messages) == 0 {
		return types.Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Len is the number of in-memory messages.
func (s *MessageStore) Len() int { return len(s.messages) }

// Offset is the absolute index of the first in-memory message.
func (s *MessageStore) Offset() int { return s.offset }

// AbsLen is the total number of messages ever appended, including truncated ones.
func (s *MessageStore) AbsLen() int { return s.offset + len(s.messages) }

// Since returns copies of messages whose absolute index is >= abs.
func (s *MessageStore) Since(abs int) []types.Message {
	start := abs - s.offset
	if start < 0 {
		start = 0
	}
	if start >= len(s.messages) {
		return nil
	}
	out := make([]types.Message, 0, len(s.messages)-start)
	for _, m := range s.messages[start:] {
		out = append(out, m.Clone())
	}
	return out
}

// Range returns copies of messages with absolute index in [from, to).
// Indices outside the in-memory window are clamped.
func (s *MessageStore) Range(from, to int) []types.Message {
	lo, hi := from-s.offset, to-s.offset
	if lo < 0 {
		lo = 0
	}
	if hi > len(s.messages) {
		hi = len(s.messages)
	}
	if lo >= hi {
		return nil
	}
	out := make([]types.Message, 0, hi-lo)
	for _, m := range s.messages[lo:hi] {
		out = append(out, m.Clone())
	}
	return out
}

// TruncateFrom drops in-memory messages with absolute index < abs.
func (s *MessageStore) TruncateFrom(abs int) {
	n := abs - s.offset
	if n <= 0 {
		return
	}
	if n > len(s.messages) {
		n = len(s.messages)
	}
	kept := make([]types.Message, len(s.messages)-n)
	copy(kept, s.messages[n:])
	s.messages = kept
	s.offset += n
}

// Stats computes aggregate statistics over the in-memory messages.
func (s *MessageStore) Stats() Stats {
	st := Stats{Total: len(s.messages), ByRole: make(map[types.Role]int)}
	for _, m := range s.messages {
		st.ByRole[m.Role]++
		st.ToolCalls += len(m.ToolCalls)
		st.Chars += len(m.Text)
	}
	return st
}
