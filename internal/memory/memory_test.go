package memory

import (
	"testing"

	"github.com/pocketomega/fedagent/internal/llm"
)

func TestNewSeedsSystemPrompt(t *testing.T) {
	m := New("be helpful")
	msgs := m.ChatMessages(0)
	if len(msgs) != 1 || msgs[0].Role != llm.RoleSystem || msgs[0].Content != "be helpful" {
		t.Errorf("ChatMessages() = %v, want single system entry", msgs)
	}
}

func TestResetPreservesSystemPrompt(t *testing.T) {
	m := New("be helpful")
	m.Add(llm.Message{Role: llm.RoleUser, Content: "hi"})
	m.Reset()
	msgs := m.ChatMessages(0)
	if len(msgs) != 1 || msgs[0].Role != llm.RoleSystem {
		t.Errorf("after Reset, ChatMessages() = %v, want only system entry", msgs)
	}
}

func TestChatMessagesCapsNonSystemEntries(t *testing.T) {
	m := New("sys")
	for i := 0; i < 5; i++ {
		m.Add(llm.Message{Role: llm.RoleUser, Content: "msg"})
	}
	msgs := m.ChatMessages(2)
	if len(msgs) != 3 { // 1 system + 2 most recent
		t.Fatalf("ChatMessages(2) returned %d entries, want 3", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem {
		t.Errorf("ChatMessages(2)[0].Role = %q, want system", msgs[0].Role)
	}
}

func TestRollbackLastRemovesMostRecentEntry(t *testing.T) {
	m := New("")
	m.Add(llm.Message{Role: llm.RoleUser, Content: "one"})
	m.Add(llm.Message{Role: llm.RoleAssistant, Content: "two"})
	m.RollbackLast()
	msgs := m.ChatMessages(0)
	if len(msgs) != 1 || msgs[0].Content != "one" {
		t.Errorf("after RollbackLast, ChatMessages() = %v, want only the first entry", msgs)
	}
}

func TestRollbackLastOnEmptyIsNoop(t *testing.T) {
	m := New("")
	m.RollbackLast()
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestExportLoadRoundTrip(t *testing.T) {
	m := New("sys")
	m.Add(llm.Message{Role: llm.RoleUser, Content: "hello"})
	m.Add(llm.Message{Role: llm.RoleAssistant, Content: "hi there"})

	data, err := m.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	m2 := New("different system prompt")
	if err := m2.Load(data); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if m2.Len() != m.Len() {
		t.Fatalf("after Load, Len() = %d, want %d", m2.Len(), m.Len())
	}
	msgs := m2.ChatMessages(0)
	if msgs[1].Content != "hello" || msgs[2].Content != "hi there" {
		t.Errorf("round-tripped entries = %v, content mismatch", msgs)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	m := New("")
	if err := m.Load("not json"); err == nil {
		t.Error("Load(invalid) = nil error, want error")
	}
}
