package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Notebook is a markdown list of remembered facts, one "- fact" per line,
// shared by the memory tools of a process.
type Notebook struct {
	path string
	mu   sync.Mutex
}

func NewNotebook(path string) *Notebook { return &Notebook{path: path} }

// entries reads the notebook. Caller must hold mu.
func (n *Notebook) entries() ([]string, error) {
	data, err := os.ReadFile(n.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read notebook: %w", err)
	}
	var out []string
	for _, l := range strings.Split(string(data), "\n") {
		if e := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "- ")); e != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

// write replaces the notebook. Caller must hold mu.
func (n *Notebook) write(entries []string) error {
	if err := os.MkdirAll(filepath.Dir(n.path), 0o755); err != nil {
		return fmt.Errorf("create notebook dir: %w", err)
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("- " + e + "\n")
	}
	return os.WriteFile(n.path, []byte(b.String()), 0o644)
}

// Save adds a fact. It reports false if the fact was already present.
func (n *Notebook) Save(fact string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	entries, err := n.entries()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e == fact {
			return false, nil
		}
	}
	return true, n.write(append(entries, fact))
}

// Delete removes a fact. It reports false if the fact was not present.
func (n *Notebook) Delete(fact string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	entries, err := n.entries()
	if err != nil {
		return false, err
	}
	kept := entries[:0]
	found := false
	for _, e := range entries {
		if e == fact {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return false, nil
	}
	return true, n.write(kept)
}

// List returns all facts in insertion order.
func (n *Notebook) List() ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.entries()
}

var factSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"content": {"type": "string", "description": "The fact or preference"}
	},
	"required": ["content"]
}`)

func parseFact(args json.RawMessage) (string, error) {
	var params struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	fact := strings.TrimSpace(params.Content)
	if fact == "" {
		return "", errors.New("content is required")
	}
	if strings.Contains(fact, "\n") {
		return "", errors.New("content must be a single line")
	}
	return fact, nil
}

// MemorySave stores a fact in the notebook.
type MemorySave struct{ nb *Notebook }

func NewMemorySave(nb *Notebook) *MemorySave { return &MemorySave{nb: nb} }

func (m *MemorySave) Name() string                { return "memory_save" }
func (m *MemorySave) Description() string         { return "Save a fact or preference to persistent memory" }
func (m *MemorySave) Parameters() json.RawMessage { return factSchema }

func (m *MemorySave) Execute(_ context.Context, args json.RawMessage) (string, error) {
	fact, err := parseFact(args)
	if err != nil {
		return "", err
	}
	added, err := m.nb.Save(fact)
	if err != nil {
		return "", err
	}
	if !added {
		return "Memory already exists: " + fact, nil
	}
	return "Saved: " + fact, nil
}

// MemoryDelete removes a fact from the notebook.
type MemoryDelete struct{ nb *Notebook }

func NewMemoryDelete(nb *Notebook) *MemoryDelete { return &MemoryDelete{nb: nb} }

func (m *MemoryDelete) Name() string { return "memory_delete" }
func (m *MemoryDelete) Description() string {
	return "Delete a fact or preference from persistent memory (must match an existing entry)"
}
func (m *MemoryDelete) Parameters() json.RawMessage { return factSchema }

func (m *MemoryDelete) Execute(_ context.Context, args json.RawMessage) (string, error) {
	fact, err := parseFact(args)
	if err != nil {
		return "", err
	}
	removed, err := m.nb.Delete(fact)
	if err != nil {
		return "", err
	}
	if !removed {
		return "Memory not found: " + fact, nil
	}
	return "Deleted: " + fact, nil
}

// MemoryList returns every fact in the notebook.
type MemoryList struct{ nb *Notebook }

func NewMemoryList(nb *Notebook) *MemoryList { return &MemoryList{nb: nb} }

func (m *MemoryList) Name() string        { return "memory_list" }
func (m *MemoryList) Description() string { return "List all facts and preferences in persistent memory" }
func (m *MemoryList) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (m *MemoryList) Execute(_ context.Context, _ json.RawMessage) (string, error) {
	entries, err := m.nb.List()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No memories stored yet.", nil
	}
	return "- " + strings.Join(entries, "\n- "), nil
}
