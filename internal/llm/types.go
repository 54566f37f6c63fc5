package llm

import (
	"context"
	"encoding/json"
)

// Message represents a chat message for LLM communication.
type Message struct {
	Role             string     `json:"role"`                        // "user", "assistant", "system", "tool"
	Content          string     `json:"content"`                     // The message text
	ReasoningContent string     `json:"reasoning_content,omitempty"` // Native thinking output (e.g. DeepSeek-R1)
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`        // Present on assistant messages that invoke tools
	ToolCallID       string     `json:"tool_call_id,omitempty"`      // Present on role="tool" messages, matches the originating ToolCall.ID
	Name             string     `json:"name,omitempty"`              // Present on role="tool" messages: the tool name as given in the originating ToolCall
}

// ToolCall is a single function-call the model asked to have dispatched.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a callable tool in the shape the LLM's function-
// calling API expects: a qualified name, a human description, and a JSON
// Schema object for its parameters.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// StreamCallback is invoked for each chunk of streamed text.
// Implementations should be lightweight; heavy work should be deferred.
type StreamCallback func(chunk string)

// LLMProvider defines the interface for all LLM implementations.
// Any OpenAI-compatible endpoint (litellm, Ollama, Azure, vLLM, etc.)
// can be used by implementing this interface.
type LLMProvider interface {
	// CallLLM sends messages to the LLM and returns the complete response.
	CallLLM(ctx context.Context, messages []Message) (Message, error)

	// CallLLMStream sends messages and streams the response token-by-token.
	// Each chunk of text triggers the onChunk callback.
	// Returns the full assembled message once streaming finishes.
	// If the provider does not support streaming, it may fall back to CallLLM.
	CallLLMStream(ctx context.Context, messages []Message, onChunk StreamCallback) (Message, error)

	// GetName returns the provider name/identifier.
	GetName() string
}

// ToolCallingProvider is implemented by providers that support function
// calling. Not every LLMProvider needs to support it (a "yaml mode" fallback
// parses tool invocations out of free text instead).
type ToolCallingProvider interface {
	CallLLMWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (Message, error)
	IsToolCallingEnabled() bool
}

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
