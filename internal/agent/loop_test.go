package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/pocketomega/fedagent/internal/llm"
	"github.com/pocketomega/fedagent/internal/mcp"
	"github.com/pocketomega/fedagent/internal/permission"
)

// fakeMemory is a minimal in-slice Memory for exercising the ControlLoop
// without the real internal/memory package's locking.
type fakeMemory struct {
	entries []llm.Message
}

func (m *fakeMemory) Add(e llm.Message)           { m.entries = append(m.entries, e) }
func (m *fakeMemory) AddMany(es []llm.Message)    { m.entries = append(m.entries, es...) }
func (m *fakeMemory) RollbackLast() {
	if len(m.entries) > 0 {
		m.entries = m.entries[:len(m.entries)-1]
	}
}
func (m *fakeMemory) ChatMessages(int) []llm.Message { return m.entries }

// fakeProvider scripts a fixed sequence of responses, one per CallLLMWithTools
// invocation, falling back to a plain answer for CallLLM.
type fakeProvider struct {
	responses []llm.Message
	calls     int
}

func (p *fakeProvider) CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error) {
	return llm.Message{Role: llm.RoleAssistant, Content: "final answer after round limit"}, nil
}
func (p *fakeProvider) CallLLMStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	return p.CallLLM(ctx, messages)
}
func (p *fakeProvider) GetName() string { return "fake" }
func (p *fakeProvider) CallLLMWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}
func (p *fakeProvider) IsToolCallingEnabled() bool { return true }

func TestControlLoopReturnsPlainAnswerImmediately(t *testing.T) {
	dir, gate := newTestWorkspace(t)
	provider := &fakeProvider{responses: []llm.Message{
		{Role: llm.RoleAssistant, Content: "hello there"},
	}}
	mem := &fakeMemory{}
	loop := NewControlLoop(provider, mem, nil, mcp.ToolCatalog{}, dir, gate, false, 5)

	answer, err := loop.Run(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if answer != "hello there" {
		t.Errorf("Run() = %q, want %q", answer, "hello there")
	}
	if provider.calls != 1 {
		t.Errorf("CallLLMWithTools invoked %d times, want 1", provider.calls)
	}
}

func TestControlLoopDispatchesToolCallThenAnswers(t *testing.T) {
	dir, gate := newTestWorkspace(t)
	args, _ := json.Marshal(map[string]any{"path": "note.txt", "content": "data"})
	provider := &fakeProvider{responses: []llm.Message{
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: "1", Name: "local:fs_write", Arguments: args},
			},
		},
		{Role: llm.RoleAssistant, Content: "wrote the file"},
	}}
	mem := &fakeMemory{}
	loop := NewControlLoop(provider, mem, nil, mcp.ToolCatalog{}, dir, gate, false, 5)

	answer, err := loop.Run(context.Background(), "please write note.txt")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if answer != "wrote the file" {
		t.Errorf("Run() = %q, want %q", answer, "wrote the file")
	}

	foundToolResult := false
	for _, e := range mem.entries {
		if e.Role == llm.RoleTool && e.ToolCallID == "1" {
			foundToolResult = true
		}
	}
	if !foundToolResult {
		t.Error("expected a tool-result entry for call id 1 in memory")
	}
}

func TestControlLoopRollsBackOnPermissionDenial(t *testing.T) {
	dir := t.TempDir()
	gate, err := permission.Open(filepath.Join(t.TempDir(), "perms.json"))
	if err != nil {
		t.Fatalf("permission.Open() error = %v", err)
	}
	args, _ := json.Marshal(map[string]any{"path": "note.txt"})
	provider := &fakeProvider{responses: []llm.Message{
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: "1", Name: "local:fs_read", Arguments: args},
			},
		},
	}}
	mem := &fakeMemory{}
	before := len(mem.entries)
	loop := NewControlLoop(provider, mem, nil, mcp.ToolCatalog{}, dir, gate, false, 5)

	_, err = loop.Run(context.Background(), "read note.txt")
	if err == nil {
		t.Fatal("Run() error = nil, want a permission-denial error")
	}
	// user prompt was added, then assistant-with-tool-calls was rolled back.
	if len(mem.entries) != before+1 {
		t.Errorf("memory has %d entries after rollback, want %d (user prompt only)", len(mem.entries), before+1)
	}
}

func TestControlLoopExhaustsRoundsThenForcesAnswer(t *testing.T) {
	dir, gate := newTestWorkspace(t)
	args, _ := json.Marshal(map[string]any{"path": "a.txt", "content": "x"})
	responses := make([]llm.Message, 3)
	for i := range responses {
		responses[i] = llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "1", Name: "local:fs_write", Arguments: args}},
		}
	}
	provider := &fakeProvider{responses: responses}
	mem := &fakeMemory{}
	loop := NewControlLoop(provider, mem, nil, mcp.ToolCatalog{}, dir, gate, false, 3)

	answer, err := loop.Run(context.Background(), "keep going forever")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if answer != "final answer after round limit" {
		t.Errorf("Run() = %q, want the forced final answer", answer)
	}
}
