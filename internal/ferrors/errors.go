// Package ferrors defines the typed error kinds shared across the
// federation: configuration, transport, cache, permission, and LLM errors
// all wrap an underlying cause while remaining distinguishable with
// errors.As so callers can apply the right propagation policy.
package ferrors

import "fmt"

// ConfigError wraps a failure to load or validate a configuration file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error (%s): %v", e.Path, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// StartupError wraps a failure to bring a Connector up to READY.
type StartupError struct {
	Server string
	Err    error
}

func (e *StartupError) Error() string { return fmt.Sprintf("startup error (%s): %v", e.Server, e.Err) }
func (e *StartupError) Unwrap() error { return e.Err }

// ProtocolError wraps a JSON-RPC or transport framing violation.
type ProtocolError struct {
	Server string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s): %v", e.Server, e.Err)
}
func (e *ProtocolError) Unwrap() error { return e.Err }

// ToolCallError wraps a failed tools/call invocation.
type ToolCallError struct {
	Server string
	Tool   string
	Err    error
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("tool call error (%s:%s): %v", e.Server, e.Tool, e.Err)
}
func (e *ToolCallError) Unwrap() error { return e.Err }

// ImplicitDenyError is returned when no permission rule covers a path: the
// default posture is deny, distinct from an explicit rule that denies access.
type ImplicitDenyError struct {
	Path   string
	Action string
}

func (e *ImplicitDenyError) Error() string {
	return fmt.Sprintf("implicit deny: no permission rule covers %q for action %q", e.Path, e.Action)
}

// ExplicitDenyError is returned when a matching rule exists but denies the
// requested action (scope DENIED, or the action's allow bit is false).
type ExplicitDenyError struct {
	Path   string
	Action string
	Reason string
}

func (e *ExplicitDenyError) Error() string {
	return fmt.Sprintf("explicit deny: %q denied for action %q: %s", e.Path, e.Action, e.Reason)
}

// CacheError wraps a failure reading or writing the tool-result cache.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string { return fmt.Sprintf("cache error (%s): %v", e.Op, e.Err) }
func (e *CacheError) Unwrap() error { return e.Err }

// LLMError wraps a failure calling the language model.
type LLMError struct {
	Err error
}

func (e *LLMError) Error() string { return fmt.Sprintf("llm error: %v", e.Err) }
func (e *LLMError) Unwrap() error { return e.Err }

// TimeoutError wraps any operation that exceeded its deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout (%s): %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }
