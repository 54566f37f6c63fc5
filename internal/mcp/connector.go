package mcp

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pocketomega/fedagent/internal/ferrors"
)

// state is the Connector's lifecycle state machine: NEW -> STARTING -> READY
// -> CLOSING -> CLOSED. A Connector that fails to start moves straight to
// CLOSED rather than lingering in STARTING.
type state int

const (
	stateNew state = iota
	stateStarting
	stateReady
	stateClosing
	stateClosed
)

const (
	portSearchAttempts = 100
	randomPortMin      = 10000
	randomPortMax      = 50000
	readinessGrace     = 3 * time.Second
	shutdownGrace      = 3 * time.Second
	initTimeout        = 30 * time.Second
)

// Connector speaks one MCP transport to one server: it owns the
// ServerConfig, an optional child process, and the underlying mcp-go client.
// Exactly one of {child process, remote URL} is ever the transport target.
// A Connector must be idempotent-closeable.
type Connector struct {
	cfg ServerConfig

	mu    sync.Mutex
	st    state
	cli   mcpclient.MCPClient
	proc  *exec.Cmd
	port  int // the port actually bound, after any renumbering
	args  []string
}

// NewConnector creates a Connector in state NEW. No I/O is performed until
// Start is called.
func NewConnector(cfg ServerConfig) *Connector {
	return &Connector{cfg: cfg, st: stateNew, args: append([]string(nil), cfg.Args...), port: cfg.Port}
}

// Start transitions NEW -> STARTING -> READY, performing whatever the
// transport requires: spawning a child process and/or dialing a client and
// completing the initialize handshake.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.st != stateNew {
		c.mu.Unlock()
		return fmt.Errorf("mcp: connector %q: Start called in state %d", c.cfg.Name, c.st)
	}
	c.st = stateStarting
	c.mu.Unlock()

	cli, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.st = stateClosed
		c.mu.Unlock()
		return &ferrors.StartupError{Server: c.cfg.Name, Err: err}
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = "2024-11-05"
	req.Params.ClientInfo = mcp.Implementation{Name: "fedagent", Version: "1.0.0"}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := cli.Initialize(initCtx, req); err != nil {
		_ = cli.Close()
		c.mu.Lock()
		c.st = stateClosed
		c.mu.Unlock()
		c.killProcess()
		return &ferrors.StartupError{Server: c.cfg.Name, Err: fmt.Errorf("initialize: %w", err)}
	}

	c.mu.Lock()
	c.cli = cli
	c.st = stateReady
	c.mu.Unlock()
	return nil
}

// dial establishes the underlying mcp-go client for the configured
// transport, spawning a child process first when the transport requires one.
func (c *Connector) dial(ctx context.Context) (mcpclient.MCPClient, error) {
	switch c.cfg.Transport {
	case "stdio":
		env := mergedEnvSlice(c.cfg.Env)
		cli, err := mcpclient.NewStdioMCPClient(c.cfg.Command, env, c.args...)
		if err != nil {
			return nil, fmt.Errorf("stdio: %w", err)
		}
		return cli, nil

	case "http", "sse":
		if err := c.startLocalServer(ctx); err != nil {
			return nil, err
		}
		url := fmt.Sprintf("http://localhost:%d%s", c.port, c.cfg.Endpoint)
		if c.cfg.Transport == "sse" {
			cli, err := mcpclient.NewSSEMCPClient(url)
			if err != nil {
				return nil, fmt.Errorf("sse: %w", err)
			}
			if err := cli.Start(ctx); err != nil {
				return nil, fmt.Errorf("sse: start: %w", err)
			}
			return cli, nil
		}
		cli, err := mcpclient.NewStreamableHttpClient(url)
		if err != nil {
			return nil, fmt.Errorf("http: %w", err)
		}
		if err := cli.Start(ctx); err != nil {
			return nil, fmt.Errorf("http: start: %w", err)
		}
		return cli, nil

	case "url":
		cli, err := mcpclient.NewStreamableHttpClient(c.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("url: %w", err)
		}
		if err := cli.Start(ctx); err != nil {
			return nil, fmt.Errorf("url: start: %w", err)
		}
		return cli, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", c.cfg.Transport)
	}
}

// startLocalServer spawns the configured server process for local http/sse
// transports, retrying on a fresh port if the preferred one is occupied.
// Renumbering rewrites any --port argument in the argv vector, matching the
// federation's original port-conflict handling.
func (c *Connector) startLocalServer(ctx context.Context) error {
	preferred := c.cfg.Port

	for attempt := 0; attempt < portSearchAttempts; attempt++ {
		var port int
		if attempt == 0 && preferred != 0 {
			port = preferred
		} else {
			port = randomPortMin + rand.Intn(randomPortMax-randomPortMin)
		}

		args := rewritePortArg(c.cfg.Args, preferred, port)
		cmd := exec.CommandContext(context.Background(), c.cfg.Command, args...)
		cmd.Dir = c.cfg.Cwd
		cmd.Env = mergedEnvSlice(c.cfg.Env)
		cmd.Env = append(cmd.Env, "MCP_SERVER_PORT="+strconv.Itoa(port))

		var stderr strings.Builder
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("spawn %q: %w", c.cfg.Name, err)
		}

		exited := make(chan error, 1)
		go func() { exited <- cmd.Wait() }()

		ready := waitReadiness(cmd, exited, port, c.cfg.Endpoint)
		if ready {
			c.mu.Lock()
			c.proc = cmd
			c.port = port
			c.args = args
			c.mu.Unlock()
			return nil
		}

		select {
		case <-exited:
			if strings.Contains(stderr.String(), "EADDRINUSE") || strings.Contains(stderr.String(), "address already in use") {
				log.Printf("[mcp] port %d in use for %q, retrying", port, c.cfg.Name)
				continue
			}
			return fmt.Errorf("server %q exited before becoming ready: %s", c.cfg.Name, stderr.String())
		default:
			// process is alive but never answered the readiness probe within
			// the grace window; treat it as ready anyway (matches upstream
			// behavior: a live process after the grace interval counts as ready).
			c.mu.Lock()
			c.proc = cmd
			c.port = port
			c.args = args
			c.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("could not find a free port for %q after %d attempts", c.cfg.Name, portSearchAttempts)
}

// waitReadiness blocks up to readinessGrace for either a TCP connect to
// succeed or the process to exit. Returns true as soon as a connect succeeds;
// if the grace interval elapses with the process still alive, that also
// counts as ready.
func waitReadiness(cmd *exec.Cmd, exited chan error, port int, endpoint string) bool {
	deadline := time.Now().Add(readinessGrace)
	addr := fmt.Sprintf("localhost:%d", port)
	_ = endpoint // full HTTP probe is best-effort; TCP connect is the primary signal

	for time.Now().Before(deadline) {
		select {
		case <-exited:
			return false
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	// Grace interval elapsed; alive process counts as ready.
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// rewritePortArg rewrites "--port N", "--port=N", and bare "--port" "N"
// argv forms so a renumbered port is reflected in the relaunched command.
func rewritePortArg(args []string, oldPort, newPort int) []string {
	if oldPort == newPort {
		return append([]string(nil), args...)
	}
	oldStr, newStr := strconv.Itoa(oldPort), strconv.Itoa(newPort)
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.Contains(arg, "--port "+oldStr):
			out = append(out, strings.Replace(arg, "--port "+oldStr, "--port "+newStr, 1))
		case strings.Contains(arg, "--port="+oldStr):
			out = append(out, strings.Replace(arg, "--port="+oldStr, "--port="+newStr, 1))
		case arg == "--port":
			out = append(out, arg)
			if i+1 < len(args) {
				i++
				if args[i] == oldStr {
					out = append(out, newStr)
				} else {
					out = append(out, args[i])
				}
			}
		default:
			out = append(out, arg)
		}
	}
	return out
}

// mergedEnvSlice merges overlay over the current process environment
// (overlay wins on conflict) and returns it as a NAME=VALUE slice suitable
// for exec.Cmd.Env.
func mergedEnvSlice(overlay map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// ListTools discovers the tools exposed by this server.
func (c *Connector) ListTools(ctx context.Context) ([]ToolSpec, error) {
	c.mu.Lock()
	cli := c.cli
	ready := c.st == stateReady
	c.mu.Unlock()
	if !ready || cli == nil {
		return nil, &ferrors.ProtocolError{Server: c.cfg.Name, Err: fmt.Errorf("ListTools called while not READY")}
	}

	resp, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, &ferrors.ProtocolError{Server: c.cfg.Name, Err: err}
	}

	specs := make([]ToolSpec, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		schema, _ := t.InputSchema.MarshalJSON()
		specs = append(specs, ToolSpec{
			QualifiedName: QualifyName(c.cfg.Name, t.Name),
			LocalName:     t.Name,
			ServerName:    c.cfg.Name,
			Description:   t.Description,
			InputSchema:   schema,
			Lifecycle:     c.cfg.Lifecycle,
		})
	}
	return specs, nil
}

// CallTool invokes one tool by its local (unqualified) name.
func (c *Connector) CallTool(ctx context.Context, localName string, args map[string]any) (string, error) {
	c.mu.Lock()
	cli := c.cli
	ready := c.st == stateReady
	c.mu.Unlock()
	if !ready || cli == nil {
		return "", &ferrors.ProtocolError{Server: c.cfg.Name, Err: fmt.Errorf("CallTool called while not READY")}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = localName
	req.Params.Arguments = args

	resp, err := cli.CallTool(ctx, req)
	if err != nil {
		return "", &ferrors.ToolCallError{Server: c.cfg.Name, Tool: localName, Err: err}
	}

	var text string
	if len(resp.Content) > 0 {
		if tc, ok := resp.Content[0].(mcp.TextContent); ok {
			text = tc.Text
		}
	}
	if resp.IsError {
		return "", &ferrors.ToolCallError{Server: c.cfg.Name, Tool: localName, Err: fmt.Errorf("%s", text)}
	}
	return text, nil
}

// Close transitions READY/STARTING -> CLOSING -> CLOSED. Safe to call
// multiple times and from any state.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.st == stateClosed || c.st == stateClosing {
		c.mu.Unlock()
		return nil
	}
	c.st = stateClosing
	cli := c.cli
	c.mu.Unlock()

	var closeErr error
	if cli != nil {
		closeErr = cli.Close()
	}
	c.killProcess()

	c.mu.Lock()
	c.st = stateClosed
	c.mu.Unlock()
	return closeErr
}

// killProcess sends SIGTERM, waits a grace period, then SIGKILL, then
// verifies the port is free by attempting a bind (diagnostic only — failure
// to rebind is logged, not returned, since another process may legitimately
// claim the port first).
func (c *Connector) killProcess() {
	c.mu.Lock()
	proc := c.proc
	port := c.port
	c.proc = nil
	c.mu.Unlock()

	if proc == nil || proc.Process == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(done)
	}()

	_ = proc.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		_ = proc.Process.Kill()
		<-done
	}

	if port != 0 {
		if ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port)); err == nil {
			_ = ln.Close()
		} else {
			log.Printf("[mcp] port %d for %q may still be held: %v", port, c.cfg.Name, err)
		}
	}
}
