// Package memory implements the ordered conversation log consumed and
// produced by the ControlLoop: a linear sequence of entries with a
// chat-messages projection and JSON export/import.
package memory

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pocketomega/fedagent/internal/llm"
)

// Memory is an ordered, append-only (until Reset) conversation log. Safe
// for concurrent use.
type Memory struct {
	mu           sync.Mutex
	systemPrompt string
	entries      []llm.Message
}

// New creates a Memory, seeding it with a system prompt entry when
// systemPrompt is non-empty.
func New(systemPrompt string) *Memory {
	m := &Memory{systemPrompt: systemPrompt}
	if systemPrompt != "" {
		m.entries = append(m.entries, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	return m
}

// Reset clears every entry, re-adding the system prompt if one was set.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	if m.systemPrompt != "" {
		m.entries = append(m.entries, llm.Message{Role: llm.RoleSystem, Content: m.systemPrompt})
	}
}

// Add appends a single entry.
func (m *Memory) Add(entry llm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// AddMany appends several entries in order.
func (m *Memory) AddMany(entries []llm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
}

// RollbackLast removes the most recently added entry, if any. Used to undo
// a just-appended assistant-with-tool-calls entry when dispatching its tool
// calls hits a permission denial that must propagate out of the round.
func (m *Memory) RollbackLast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return
	}
	m.entries = m.entries[:len(m.entries)-1]
}

// ChatMessages returns the "chat_messages" projection: every system entry,
// plus the last maxEntries non-system entries (all of them when maxEntries
// is zero). This is what gets handed to the LLM adapter each round.
func (m *Memory) ChatMessages(maxEntries int) []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxEntries <= 0 {
		out := make([]llm.Message, len(m.entries))
		copy(out, m.entries)
		return out
	}

	var system, other []llm.Message
	for _, e := range m.entries {
		if e.Role == llm.RoleSystem {
			system = append(system, e)
		} else {
			other = append(other, e)
		}
	}
	if len(other) > maxEntries {
		other = other[len(other)-maxEntries:]
	}
	return append(system, other...)
}

// Len returns the number of entries currently held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Export serializes the full entry log as indented JSON.
func (m *Memory) Export() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("memory: export: %w", err)
	}
	return string(buf), nil
}

// Load replaces the entry log with the contents of a JSON array previously
// produced by Export.
func (m *Memory) Load(data string) error {
	var entries []llm.Message
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return fmt.Errorf("memory: load: %w", err)
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}
