package agent

import (
	"github.com/pocketomega/fedagent/internal/llm"
	"github.com/pocketomega/fedagent/internal/mcp"
	"github.com/pocketomega/fedagent/internal/permission"
)

// Catalog is the unified, dispatch-ready view of every tool available to the
// ControlLoop: the MCP-discovered tools merged with the fixed set of
// permission-gated local filesystem tools, published under the reserved
// "local" pseudo-server name so both kinds share one qualified-name space.
type Catalog struct {
	specs map[string]mcp.ToolSpec
	local map[string]localTool
}

// buildCatalog merges mcpCatalog with the workspace's guarded filesystem
// tools. A local tool never shadows an MCP tool of the same qualified name;
// collisions are not expected since "local" is reserved and MCP server
// names are operator-configured, but MCP wins if one ever occurs.
func buildCatalog(mcpCatalog mcp.ToolCatalog, workspaceDir string, gate *permission.Gate) *Catalog {
	c := &Catalog{
		specs: make(map[string]mcp.ToolSpec, len(mcpCatalog)),
		local: make(map[string]localTool),
	}
	for name, spec := range mcpCatalog {
		c.specs[name] = spec
	}
	for _, t := range fsTools(workspaceDir, gate) {
		spec := t.spec()
		if _, exists := c.specs[spec.QualifiedName]; exists {
			continue
		}
		c.specs[spec.QualifiedName] = spec
		c.local[spec.QualifiedName] = t
	}
	return c
}

// isLocal reports whether qualifiedName resolves to a guarded local tool
// rather than an MCP server's tool.
func (c *Catalog) isLocal(qualifiedName string) bool {
	_, ok := c.local[qualifiedName]
	return ok
}

// resolve finds the qualified name for a bare, local tool name as reported
// by the LLM's tool call (ControlLoop asks the LLM to use qualified names
// directly, but models sometimes echo back only the local segment). The
// first catalog entry whose LocalName matches wins, in sorted qualified-name
// order.
func (c *Catalog) resolve(name string) (string, bool) {
	if _, ok := c.specs[name]; ok {
		return name, true
	}
	match := ""
	for qualified, spec := range c.specs {
		if spec.LocalName == name && (match == "" || qualified < match) {
			match = qualified
		}
	}
	return match, match != ""
}

func (c *Catalog) spec(qualifiedName string) (mcp.ToolSpec, bool) {
	s, ok := c.specs[qualifiedName]
	return s, ok
}

// Names returns the qualified names of every tool in the catalog, MCP and
// local alike.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	return names
}

// toolDefinitions builds the LLM-facing function-tool schema array from the
// full catalog, in a deterministic (sorted) order so prompts are stable
// across runs with the same server set.
func (c *Catalog) toolDefinitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(c.specs))
	for _, spec := range c.specs {
		schema := spec.InputSchema
		if len(schema) == 0 {
			schema = []byte(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        spec.QualifiedName,
			Description: spec.Description,
			Parameters:  schema,
		})
	}
	sortToolDefinitions(defs)
	return defs
}

func sortToolDefinitions(defs []llm.ToolDefinition) {
	for i := 1; i < len(defs); i++ {
		for j := i; j > 0 && defs[j].Name < defs[j-1].Name; j-- {
			defs[j], defs[j-1] = defs[j-1], defs[j]
		}
	}
}
