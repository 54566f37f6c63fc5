package mcp

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pocketomega/fedagent/internal/cache"
	"github.com/pocketomega/fedagent/internal/ferrors"
)

// Manager is the ServerManager: it owns one Connector per configured server,
// aggregates their tool specs into a single ToolCatalog, and dispatches
// tool calls either straight to a Connector or through an optional
// ToolCache in front of it.
//
// Concurrency model: state changes are guarded by mu. Network I/O (connect,
// list tools, call tool) is always performed outside the lock so a slow or
// hung server cannot block other Manager operations such as CloseAll.
type Manager struct {
	configPath string
	cache      *cache.Cache // optional; nil disables caching entirely

	mu         sync.Mutex
	connectors map[string]*Connector
	catalog    ToolCatalog
}

// NewManager creates a Manager for the given server config path. No
// connections are established until ConnectAll is called.
func NewManager(configPath string, toolCache *cache.Cache) *Manager {
	return &Manager{
		configPath: configPath,
		cache:      toolCache,
		connectors: make(map[string]*Connector),
		catalog:    make(ToolCatalog),
	}
}

// ConnectAll loads the server config and connects to every configured
// server concurrently. Returns the number of servers that reached READY and
// any per-server errors; a failure on one server never prevents the others
// from connecting.
func (m *Manager) ConnectAll(ctx context.Context) (int, []error) {
	configs, err := LoadConfig(m.configPath)
	if err != nil {
		return 0, []error{&ferrors.ConfigError{Path: m.configPath, Err: err}}
	}

	type result struct {
		name  string
		conn  *Connector
		specs []ToolSpec
		err   error
	}

	resultsCh := make(chan result, len(configs))
	var wg sync.WaitGroup
	for name, cfg := range configs {
		wg.Add(1)
		go func(name string, cfg ServerConfig) {
			defer wg.Done()
			conn := NewConnector(cfg)
			if err := conn.Start(ctx); err != nil {
				log.Printf("[mcp] connect failed: %s: %v", name, err)
				resultsCh <- result{name: name, err: err}
				return
			}
			specs, err := conn.ListTools(ctx)
			if err != nil {
				log.Printf("[mcp] list tools failed: %s: %v", name, err)
				_ = conn.Close()
				resultsCh <- result{name: name, err: err}
				return
			}
			log.Printf("[mcp] connected: %s (%d tool(s))", name, len(specs))
			resultsCh <- result{name: name, conn: conn, specs: specs}
		}(name, cfg)
	}
	wg.Wait()
	close(resultsCh)

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	connected := 0
	for r := range resultsCh {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", r.name, r.err))
			continue
		}
		m.connectors[r.name] = r.conn
		for _, spec := range r.specs {
			m.catalog[spec.QualifiedName] = spec
		}
		connected++
	}
	return connected, errs
}

// Catalog returns a snapshot copy of the current aggregated tool catalog.
func (m *Manager) Catalog() ToolCatalog {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(ToolCatalog, len(m.catalog))
	for k, v := range m.catalog {
		snap[k] = v
	}
	return snap
}

// CallTool dispatches a call by qualified name ("{server}:{local}"),
// consulting the ToolCache first when useCache is true and the tool's
// result is eligible for caching. Network I/O is performed outside the lock.
func (m *Manager) CallTool(ctx context.Context, qualifiedName string, args map[string]any, useCache bool) (string, error) {
	m.mu.Lock()
	spec, ok := m.catalog[qualifiedName]
	conn := m.connectors[spec.ServerName]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mcp: unknown tool %q", qualifiedName)
	}

	if useCache && m.cache != nil {
		if result, hit, err := m.cache.Get(ctx, spec.ServerName, spec.LocalName, args); err != nil {
			log.Printf("[cache] read error for %q: %v", qualifiedName, err)
		} else if hit {
			return result, nil
		}
	}

	result, err := conn.CallTool(ctx, spec.LocalName, args)
	if err != nil {
		return "", err
	}

	if useCache && m.cache != nil {
		if cerr := m.cache.Put(ctx, spec.ServerName, spec.LocalName, args, result); cerr != nil {
			log.Printf("[cache] write error for %q: %v", qualifiedName, cerr)
		}
	}
	return result, nil
}

// CloseAll terminates every active connector. Safe to call multiple times.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make(map[string]*Connector, len(m.connectors))
	for name, c := range m.connectors {
		conns[name] = c
	}
	m.connectors = make(map[string]*Connector)
	m.catalog = make(ToolCatalog)
	m.mu.Unlock()

	for name, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("[mcp] close error for %q: %v", name, err)
		}
	}
}
