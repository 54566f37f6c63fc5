package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewManager_CreatesEmptyState(t *testing.T) {
	m := NewManager("servers.yaml", nil)
	if m == nil {
		t.Fatal("NewManager returned nil")
	}
	if m.configPath != "servers.yaml" {
		t.Errorf("configPath = %q", m.configPath)
	}
	if len(m.Catalog()) != 0 {
		t.Errorf("expected empty catalog, got %d entries", len(m.Catalog()))
	}
}

func TestConnectAll_MissingConfig(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nonexistent.yaml"), nil)
	n, errs := m.ConnectAll(context.Background())
	if n != 0 {
		t.Errorf("expected 0 connected, got %d", n)
	}
	if len(errs) == 0 {
		t.Error("expected errors for missing config, got none")
	}
}

func TestConnectAll_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	if err := os.WriteFile(path, []byte("not: valid: yaml: ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	m := NewManager(path, nil)
	n, errs := m.ConnectAll(context.Background())
	if n != 0 {
		t.Errorf("expected 0 connected, got %d", n)
	}
	if len(errs) == 0 {
		t.Error("expected errors for invalid config")
	}
}

func TestConnectAll_EmptyConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	if err := os.WriteFile(path, []byte("all_servers: {}"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	m := NewManager(path, nil)
	n, errs := m.ConnectAll(context.Background())
	if n != 0 {
		t.Errorf("expected 0 connected, got %d", n)
	}
	if len(errs) != 0 {
		t.Errorf("expected no errors for an empty server set, got %v", errs)
	}
}

func TestConnectAll_UnknownTransportFailsThatServerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	content := `
all_servers:
  broken:
    transport: carrier-pigeon
    command: noop
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	m := NewManager(path, nil)
	n, errs := m.ConnectAll(context.Background())
	if n != 0 {
		t.Errorf("expected 0 connected, got %d", n)
	}
	if len(errs) != 1 {
		t.Fatalf("expected exactly 1 error, got %d: %v", len(errs), errs)
	}
}

func TestCloseAll_Idempotent(t *testing.T) {
	m := NewManager("servers.yaml", nil)
	// Multiple CloseAll calls on a manager with no live connectors must not
	// panic.
	m.CloseAll()
	m.CloseAll()
	m.CloseAll()
}

func TestCatalog_ReturnsSnapshotCopy(t *testing.T) {
	m := NewManager("servers.yaml", nil)
	m.catalog["srv:tool"] = ToolSpec{QualifiedName: "srv:tool", ServerName: "srv", LocalName: "tool"}

	snap := m.Catalog()
	delete(snap, "srv:tool")

	if _, ok := m.catalog["srv:tool"]; !ok {
		t.Error("mutating the returned snapshot mutated the manager's own catalog")
	}
}

func TestCallTool_UnknownQualifiedName(t *testing.T) {
	m := NewManager("servers.yaml", nil)
	_, err := m.CallTool(context.Background(), "ghost:nope", nil, false)
	if err == nil {
		t.Error("expected an error calling an unknown tool, got nil")
	}
}

func TestCallTool_CacheDisabledIgnoresNilCache(t *testing.T) {
	// A Manager opened with a nil cache and useCache=true must not panic; it
	// should simply behave as if caching were off.
	m := NewManager("servers.yaml", nil)
	_, err := m.CallTool(context.Background(), "ghost:nope", nil, true)
	if err == nil {
		t.Error("expected an error for an unknown tool even with caching enabled")
	}
}
