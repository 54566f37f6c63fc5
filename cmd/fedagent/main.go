// Command fedagent is the interactive CLI for the tool federation: it
// connects to every configured MCP server, then drives a REPL in which each
// line either runs a slash command or is handed to the ControlLoop as a
// user prompt.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pocketomega/fedagent/internal/agent"
	"github.com/pocketomega/fedagent/internal/cache"
	"github.com/pocketomega/fedagent/internal/config"
	"github.com/pocketomega/fedagent/internal/llm/openai"
	"github.com/pocketomega/fedagent/internal/mcp"
	"github.com/pocketomega/fedagent/internal/memory"
	"github.com/pocketomega/fedagent/internal/permission"
	"github.com/pocketomega/fedagent/internal/util"
)

const systemPrompt = "You are a helpful assistant with access to a federation of tools. " +
	"Use the tools available to you to answer the user's questions; call tools by their " +
	"full qualified name in the form \"server:tool\"."

// maxDisplayRunes caps how much of a single answer the REPL prints at once,
// so a runaway or very verbose tool result doesn't flood the terminal.
const maxDisplayRunes = 8000

// session holds everything that /reset must rebuild from scratch: the
// agent config, the MCP manager (and its live server connections), and the
// ControlLoop built on top of them. The LLM provider, permission gate, and
// tool cache survive a reset; they are opened once at process start.
type session struct {
	provider     agent.Provider
	mem          *memory.Memory
	workspaceDir string
	gate         *permission.Gate
	toolCache    *cache.Cache

	agentCfg *config.AgentConfig
	manager  *mcp.Manager
	loop     *agent.ControlLoop
}

func main() {
	config.LoadEnv()

	agentCfg, err := config.LoadAgentConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	provider, err := newProvider(agentCfg)
	if err != nil {
		log.Fatalf("llm client: %v", err)
	}

	workspaceDir, err := os.Getwd()
	if err != nil {
		log.Fatalf("workspace dir: %v", err)
	}

	permPath := filepath.Join(workspaceDir, ".fedagent_permissions.json")
	gate, err := permission.Open(permPath)
	if err != nil {
		log.Fatalf("permission gate: %v", err)
	}

	cachePath := filepath.Join(workspaceDir, ".fedagent_cache.db")
	toolCache, err := cache.Open(cachePath)
	if err != nil {
		log.Fatalf("tool cache: %v", err)
	}
	defer toolCache.Close()

	ctx := context.Background()

	s := &session{
		provider:     provider,
		mem:          memory.New(systemPrompt),
		workspaceDir: workspaceDir,
		gate:         gate,
		toolCache:    toolCache,
		agentCfg:     agentCfg,
	}
	if err := s.connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer s.manager.CloseAll()

	runREPL(ctx, s)
}

// newProvider builds the LLM adapter from the agent's own configuration.
func newProvider(agentCfg *config.AgentConfig) (*openai.Client, error) {
	llmCfg := &openai.Config{
		APIKey:      agentCfg.APIKey,
		BaseURL:     agentCfg.BaseURL,
		Model:       agentCfg.ModelName,
		MaxRetries:  1,
		HTTPTimeout: 300,

		ThinkingMode:    "auto",
		ToolCallMode:    "auto",
		ReasoningEffort: "medium",
	}
	if llmCfg.BaseURL == "" {
		llmCfg.BaseURL = "https://api.openai.com/v1"
	}
	return openai.NewClient(llmCfg)
}

// connect (re)builds the manager and ControlLoop from the session's current
// agentCfg, connecting to every configured MCP server. Any previously live
// manager must be closed by the caller first.
func (s *session) connect(ctx context.Context) error {
	manager := mcp.NewManager(s.agentCfg.ServerConfigPath, s.toolCache)
	connected, errs := manager.ConnectAll(ctx)
	for _, e := range errs {
		log.Printf("[fedagent] %v", e)
	}
	log.Printf("[fedagent] connected to %d server(s)", connected)

	s.manager = manager
	s.loop = agent.NewControlLoop(s.provider, s.mem, manager, manager.Catalog(), s.workspaceDir, s.gate, true, s.agentCfg.MaxToolCalls)
	return nil
}

// reload reloads the agent from file: it re-reads AGENT_* environment
// configuration, closes every live server connection, and reconnects from
// the (possibly changed) server config, discarding conversation memory.
// The permission gate already hot-reloads its rule file on its own, so it
// is left untouched here.
func (s *session) reload(ctx context.Context) error {
	agentCfg, err := config.LoadAgentConfig()
	if err != nil {
		return err
	}
	s.manager.CloseAll()
	s.agentCfg = agentCfg
	s.mem.Reset()
	return s.connect(ctx)
}

func runREPL(ctx context.Context, s *session) {
	fmt.Println("fedagent — type /help for commands, or just ask a question.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if handleCommand(ctx, line, s) {
				return
			}
			continue
		}

		answer, err := s.loop.Run(ctx, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(util.TruncateRunes(answer, maxDisplayRunes))
	}
}

// handleCommand runs a slash command and reports whether the REPL should
// exit afterward.
func handleCommand(ctx context.Context, line string, s *session) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	rest := fields[1:]

	switch cmd {
	case "/help":
		printHelp()
	case "/quit", "/exit":
		return true
	case "/clear":
		s.mem.Reset()
		fmt.Println("conversation cleared.")
	case "/reset":
		if err := s.reload(ctx); err != nil {
			fmt.Printf("reset failed: %v\n", err)
			return false
		}
		fmt.Println("agent reloaded from file: server connections and config re-read, conversation cleared.")
	case "/export":
		path := ".fedagent_export.json"
		if len(rest) > 0 {
			path = rest[0]
		}
		data, err := s.mem.Export()
		if err != nil {
			fmt.Printf("export failed: %v\n", err)
			return false
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			fmt.Printf("export failed: %v\n", err)
			return false
		}
		fmt.Printf("exported to %s\n", path)
	case "/config":
		fmt.Printf("model=%s max_tool_calls=%d server_config=%s tools=%d\n",
			s.agentCfg.ModelName, s.agentCfg.MaxToolCalls, s.agentCfg.ServerConfigPath, len(s.loop.Catalog().Names()))
	case "/model":
		if len(rest) == 0 {
			fmt.Println("usage: /model <name>")
			return false
		}
		s.agentCfg.ModelName = rest[0]
		if client, ok := s.provider.(*openai.Client); ok {
			client.GetConfig().Model = rest[0]
		}
		fmt.Printf("model set to %s (takes effect on next run)\n", s.agentCfg.ModelName)
	case "/max_tools":
		if len(rest) == 0 {
			fmt.Println("usage: /max_tools <n>")
			return false
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil || n <= 0 {
			fmt.Println("max_tools must be a positive integer")
			return false
		}
		s.agentCfg.MaxToolCalls = n
		s.loop = agent.NewControlLoop(s.provider, s.mem, s.manager, s.manager.Catalog(), s.workspaceDir, s.gate, true, n)
		fmt.Printf("max_tool_calls set to %d (takes effect on next run)\n", n)
	default:
		fmt.Printf("unknown command %q, try /help\n", cmd)
	}
	return false
}

func printHelp() {
	fmt.Println(`commands:
  /help              show this message
  /quit, /exit       leave the REPL
  /clear             clear conversation memory
  /reset             reload agent from file: re-read config, reconnect all servers, clear memory
  /export [path]      export conversation memory to a JSON file
  /config             show current configuration
  /model <name>       change the model for subsequent turns
  /max_tools <n>      change the per-run tool call round budget`)
}
