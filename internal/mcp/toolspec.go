package mcp

import "encoding/json"

// ToolSpec is the discovered, server-agnostic description of a single MCP
// tool: its qualified name, free-text description, and JSON Schema for
// arguments, plus which server and lifecycle it was discovered under.
type ToolSpec struct {
	// QualifiedName is "{server}:{local}" — the colon-joined identity used
	// as the catalog key and as the LLM function-call name.
	QualifiedName string

	// LocalName is the tool's name as reported by its own server, without
	// the server prefix.
	LocalName string

	// ServerName is the server this tool was discovered on.
	ServerName string

	Description string
	InputSchema json.RawMessage

	// Lifecycle mirrors the owning ServerConfig.Lifecycle ("persistent" or
	// "per_call"). It is recorded only: every call to a server goes over the
	// single connection Manager opened for it, whatever the value.
	Lifecycle string
}

// QualifyName joins a server name and a tool's local name into the
// qualified_name format used throughout the catalog.
func QualifyName(server, local string) string {
	return server + ":" + local
}

// ToolCatalog is the aggregated, read-only view of every tool currently
// discovered across all connected servers, keyed by qualified name.
type ToolCatalog map[string]ToolSpec

// Names returns the catalog's qualified names in no particular order.
func (c ToolCatalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	return names
}
