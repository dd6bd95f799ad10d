package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/threadweave/threadweave/core"
	"github.com/threadweave/threadweave/logging"
	"github.com/threadweave/threadweave/model"
)

// Registry resolves requested tool calls to implementations and executes
// them. Failures of any kind (unknown tool, malformed arguments, execution
// errors, panics) are returned as error results, never thrown past this
// boundary, so the agent can always append a result event and the model can
// self-correct on the next turn.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool, replacing any previous registration for the name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the model-facing schemas of all registered tools,
// sorted by name for a stable provider request.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsReadOnly reports whether the named tool is registered and read-only.
func (r *Registry) IsReadOnly(name string) bool {
	t, ok := r.Lookup(name)
	return ok && t.ReadOnly()
}

// Execute runs the requested call and returns a result payload. The IsError
// flag distinguishes failure results; Execute itself fails only via ctx.
func (r *Registry) Execute(ctx context.Context, call core.ToolCallPayload) core.ToolResultPayload {
	impl, ok := r.Lookup(call.Name)
	if !ok {
		r.logger.Warn("tool.execute.unknown", "tool", call.Name, "call_id", call.CallID)
		return errorResult(call, NewToolError(call.Name, "tool not registered", CodeUnknownTool))
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			r.logger.Warn("tool.execute.bad_args", "tool", call.Name, "error", err.Error())
			return errorResult(call, &ToolError{
				Tool:    call.Name,
				Message: fmt.Sprintf("malformed arguments: %v", err),
				Code:    CodeBadArgs,
			})
		}
	}

	start := time.Now()
	var (
		result any
		err    error
	)
	func() { // panic safety
		defer func() {
			if rec := recover(); rec != nil {
				err = &ToolError{
					Tool:    call.Name,
					Message: fmt.Sprintf("panic: %v", rec),
					Code:    CodeExecution,
					Details: string(debug.Stack()),
				}
			}
		}()
		result, err = impl.Call(ctx, args)
	}()
	dur := time.Since(start)

	if err != nil {
		r.logger.Error("tool.execute.error", "tool", call.Name, "call_id", call.CallID,
			"duration_ms", dur.Milliseconds(), "error", err.Error())
		return errorResult(call, err)
	}

	r.logger.Info("tool.execute.success", "tool", call.Name, "call_id", call.CallID,
		"duration_ms", dur.Milliseconds())
	return core.ToolResultPayload{
		CallID:  call.CallID,
		Name:    call.Name,
		Content: encodeResult(result),
	}
}

func errorResult(call core.ToolCallPayload, err error) core.ToolResultPayload {
	return core.ToolResultPayload{
		CallID:  call.CallID,
		Name:    call.Name,
		Content: err.Error(),
		IsError: true,
	}
}

// encodeResult renders a tool's return value for the log: strings verbatim,
// everything else JSON-encoded.
func encodeResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
