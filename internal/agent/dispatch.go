package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pocketomega/fedagent/internal/argfix"
	"github.com/pocketomega/fedagent/internal/ferrors"
	"github.com/pocketomega/fedagent/internal/llm"
	"github.com/pocketomega/fedagent/internal/mcp"
)

// dispatcher resolves and executes tool calls emitted by the LLM, routing
// each to either a local guarded filesystem tool or the ServerManager,
// fuzzy-repairing argument names along the way.
type dispatcher struct {
	catalog  *Catalog
	manager  *mcp.Manager
	fixer    *argfix.Fixer
	useCache bool
}

func newDispatcher(catalog *Catalog, manager *mcp.Manager, useCache bool) *dispatcher {
	return &dispatcher{catalog: catalog, manager: manager, fixer: argfix.NewFixer(), useCache: useCache}
}

// schemaParams pulls the "properties" keys and "required" list out of a
// tool's JSON Schema, for ArgumentFixer's use. Malformed or absent schemas
// degrade to empty slices rather than erroring; Fix is always safe to call
// with them.
func schemaParams(raw json.RawMessage) (expected, required []string) {
	if len(raw) == 0 {
		return nil, nil
	}
	var parsed struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                    `json:"required"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil
	}
	for name := range parsed.Properties {
		expected = append(expected, name)
	}
	return expected, parsed.Required
}

// permissionDenied reports whether err is a permission.Gate rollback
// trigger (implicit or explicit deny), per the dispatch rollback rule: the
// just-appended assistant-with-tool-calls memory entry must be undone
// before such an error propagates out of the round.
func permissionDenied(err error) bool {
	var implicit *ferrors.ImplicitDenyError
	var explicit *ferrors.ExplicitDenyError
	return errors.As(err, &implicit) || errors.As(err, &explicit)
}

// dispatchOne resolves and executes a single tool call, returning the
// tool-result message to append to memory. Permission denials are returned
// as an error instead of being folded into the message, since those must
// trigger a memory rollback one level up; every other failure mode (unknown
// tool, malformed arguments, the underlying call itself failing) is folded
// into the returned message's content and reported with a nil error, since
// the loop should keep going and let the model see and react to it.
func (d *dispatcher) dispatchOne(ctx context.Context, call llm.ToolCall) (llm.Message, error) {
	toolMsg := func(content string) llm.Message {
		return llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name, Content: content}
	}

	qualifiedName, ok := d.catalog.resolve(call.Name)
	if !ok {
		return toolMsg(fmt.Sprintf("error: unknown tool %q", call.Name)), nil
	}

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return toolMsg(fmt.Sprintf("error: malformed arguments for %q: %v", call.Name, err)), nil
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	spec, _ := d.catalog.spec(qualifiedName)
	expected, required := schemaParams(spec.InputSchema)
	args = d.fixer.Fix(args, expected, required)

	var result string
	var err error
	if d.catalog.isLocal(qualifiedName) {
		result, err = d.catalog.local[qualifiedName].execute(ctx, args)
	} else {
		result, err = d.manager.CallTool(ctx, qualifiedName, args, d.useCache)
	}

	if err != nil {
		if permissionDenied(err) {
			return llm.Message{}, err
		}
		return toolMsg(fmt.Sprintf("error: %v", err)), nil
	}
	return toolMsg(result), nil
}

// dispatchAll runs every tool call from one LLM turn concurrently, but
// returns results in the same order the calls were emitted in, regardless of
// completion order. If any call hits a permission denial, dispatchAll
// returns that error (discarding the rest) so the caller can roll back the
// turn's assistant entry before propagating it further, per the dispatch
// rollback rule.
func (d *dispatcher) dispatchAll(ctx context.Context, calls []llm.ToolCall) ([]llm.Message, error) {
	results := make([]llm.Message, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			msg, err := d.dispatchOne(ctx, call)
			results[i] = msg
			errs[i] = err
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
