package mcp

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig describes a single MCP server entry as loaded from the
// federation's YAML config file.
type ServerConfig struct {
	Name      string
	Transport string // "stdio", "http", "sse", "url"
	Lifecycle string // "persistent" (default) or "per_call"

	// process launch (stdio and local http/sse). Cwd is applied to local
	// http/sse processes only; a stdio server runs in the orchestrator's own
	// working directory.
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string

	// http / sse local-process transports
	Port     int
	Endpoint string

	// url transport: a remote server reached directly, no subprocess
	URL string
}

type yamlServerEntry struct {
	Command   string            `yaml:"command"`
	Args      yaml.Node         `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	Cwd       string            `yaml:"cwd"`
	Transport string            `yaml:"transport"`
	Lifecycle string            `yaml:"lifecycle"`
	Port      int               `yaml:"port"`
	Endpoint  string             `yaml:"endpoint"`
	URL       string            `yaml:"url"`
}

type yamlConfigFile struct {
	AllServers map[string]yamlServerEntry `yaml:"all_servers"`
}

// LoadConfig reads the federation's YAML config file and returns one
// ServerConfig per entry under the top-level "all_servers" key.
//
// args may be given as either a single string or a sequence; both forms
// are accepted to match the config shape used by the system this
// federation protocol descends from.
func LoadConfig(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: read config %q: %w", path, err)
	}

	var raw yamlConfigFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("mcp: parse config %q: %w", path, err)
	}

	configs := make(map[string]ServerConfig, len(raw.AllServers))
	for name, entry := range raw.AllServers {
		args, err := decodeArgs(entry.Args)
		if err != nil {
			return nil, fmt.Errorf("mcp: server %q: args: %w", name, err)
		}

		transport := entry.Transport
		if transport == "" {
			transport = "stdio"
		}
		lifecycle := entry.Lifecycle
		if lifecycle == "" {
			lifecycle = "persistent"
		}
		endpoint := entry.Endpoint
		if endpoint == "" {
			endpoint = "/mcp"
		}

		configs[name] = ServerConfig{
			Name:      name,
			Transport: transport,
			Lifecycle: lifecycle,
			Command:   entry.Command,
			Args:      args,
			Env:       entry.Env,
			Cwd:       entry.Cwd,
			Port:      entry.Port,
			Endpoint:  endpoint,
			URL:       entry.URL,
		}
	}
	return configs, nil
}

// decodeArgs accepts a YAML scalar (single argument string) or a sequence
// of strings, mirroring how the upstream config tolerates both shapes.
func decodeArgs(node yaml.Node) ([]string, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, fmt.Errorf("args must be a string or a list, got %v", node.Kind)
	}
}
