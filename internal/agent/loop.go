// Package agent implements the ControlLoop: the round-bounded
// tool-use/response cycle that drives a single conversational turn,
// together with the local permission-gated filesystem tools it publishes
// alongside the federation's MCP tools.
package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/pocketomega/fedagent/internal/llm"
	"github.com/pocketomega/fedagent/internal/mcp"
	"github.com/pocketomega/fedagent/internal/permission"
)

// defaultMaxRounds bounds a single Run call when NewControlLoop is given a
// maxRounds of zero or less.
const defaultMaxRounds = 5

// roundLimitPrompt is appended to memory when a run exhausts its round
// budget without the model producing a final answer, asking it to answer
// immediately without further tool calls.
const roundLimitPrompt = "Tool call limit reached. Answer now using only the information already gathered, without calling any more tools."

// Provider is the subset of the LLM adapter contract the ControlLoop needs:
// plain chat completion plus tool-calling completion.
type Provider interface {
	llm.LLMProvider
	llm.ToolCallingProvider
}

// ControlLoop drives one agent run: repeatedly calling the LLM with the
// current conversation and tool catalog, dispatching any tool calls it
// makes, and feeding the results back, until it answers in plain content or
// the round budget is exhausted.
type ControlLoop struct {
	provider   Provider
	mem        Memory
	manager    *mcp.Manager
	catalog    *Catalog
	dispatcher *dispatcher
	maxRounds  int
}

// Memory is the narrow view of internal/memory.Memory the ControlLoop
// depends on, so tests can substitute a fake.
type Memory interface {
	Add(entry llm.Message)
	AddMany(entries []llm.Message)
	RollbackLast()
	ChatMessages(maxEntries int) []llm.Message
}

// NewControlLoop assembles a ControlLoop from its already-connected
// dependencies. mcpCatalog should be the result of manager.Catalog() after
// ConnectAll; workspaceDir and gate parameterize the local filesystem tools
// merged alongside it.
func NewControlLoop(provider Provider, mem Memory, manager *mcp.Manager, mcpCatalog mcp.ToolCatalog, workspaceDir string, gate *permission.Gate, useCache bool, maxRounds int) *ControlLoop {
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	catalog := buildCatalog(mcpCatalog, workspaceDir, gate)
	return &ControlLoop{
		provider:   provider,
		mem:        mem,
		manager:    manager,
		catalog:    catalog,
		dispatcher: newDispatcher(catalog, manager, useCache),
		maxRounds:  maxRounds,
	}
}

// Catalog exposes the merged tool catalog, e.g. for the CLI's "/config" command.
func (l *ControlLoop) Catalog() *Catalog { return l.catalog }

// Run drives one full turn for userPrompt: adds it to memory, then loops
// calling the LLM with tools until it answers in plain content, a tool
// dispatch hits an unrecoverable permission denial, or the round budget
// runs out (in which case one final, tools-disabled call forces an answer).
func (l *ControlLoop) Run(ctx context.Context, userPrompt string) (string, error) {
	l.mem.Add(llm.Message{Role: llm.RoleUser, Content: userPrompt})

	tools := l.catalog.toolDefinitions()

	for round := 0; round < l.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := l.provider.CallLLMWithTools(ctx, l.mem.ChatMessages(0), tools)
		if err != nil {
			return "", fmt.Errorf("control loop: round %d: %w", round, err)
		}

		if len(resp.ToolCalls) == 0 {
			l.mem.Add(resp)
			return resp.Content, nil
		}

		l.mem.Add(resp)
		log.Printf("[agent] round %d: %d tool call(s)", round, len(resp.ToolCalls))

		results, err := l.dispatcher.dispatchAll(ctx, resp.ToolCalls)
		if err != nil {
			l.mem.RollbackLast()
			return "", fmt.Errorf("control loop: round %d: %w", round, err)
		}
		l.mem.AddMany(results)
	}

	l.mem.Add(llm.Message{Role: llm.RoleUser, Content: roundLimitPrompt})
	final, err := l.provider.CallLLM(ctx, l.mem.ChatMessages(0))
	if err != nil {
		return "", fmt.Errorf("control loop: final call: %w", err)
	}
	l.mem.Add(final)
	return final.Content, nil
}
