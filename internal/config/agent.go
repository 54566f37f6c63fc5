package config

import (
	"fmt"
	"os"
	"strconv"
)

// AgentConfig resolves the federation's own runtime knobs from the
// environment, distinct from the LLM adapter's own LLM_* variables.
type AgentConfig struct {
	ModelName        string
	MaxToolCalls     int
	ServerConfigPath string
	BaseURL          string
	APIKey           string
}

// defaultMaxToolCalls bounds a single ControlLoop run when
// AGENT_MAX_TOOL_CALL is unset or invalid.
const defaultMaxToolCalls = 8

// LoadAgentConfig reads AGENT_MODEL_NAME, AGENT_MAX_TOOL_CALL,
// AGENT_SERVER_CONFIG_PATH, AGENT_BASE_URL, and AGENT_API_KEY.
func LoadAgentConfig() (*AgentConfig, error) {
	cfg := &AgentConfig{
		ModelName:        os.Getenv("AGENT_MODEL_NAME"),
		ServerConfigPath: os.Getenv("AGENT_SERVER_CONFIG_PATH"),
		BaseURL:          os.Getenv("AGENT_BASE_URL"),
		APIKey:           os.Getenv("AGENT_API_KEY"),
		MaxToolCalls:     defaultMaxToolCalls,
	}

	if v := os.Getenv("AGENT_MAX_TOOL_CALL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("AGENT_MAX_TOOL_CALL must be a positive integer, got %q", v)
		}
		cfg.MaxToolCalls = n
	}

	if cfg.ModelName == "" {
		return nil, fmt.Errorf("AGENT_MODEL_NAME is required")
	}
	if cfg.ServerConfigPath == "" {
		return nil, fmt.Errorf("AGENT_SERVER_CONFIG_PATH is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AGENT_API_KEY is required")
	}

	return cfg, nil
}
