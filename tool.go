package cascade

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ToolResultStatus is the outcome class of a tool execution.
type ToolResultStatus string

const (
	ToolStatusSuccess       ToolResultStatus = "success"
	ToolStatusSuccessNoData ToolResultStatus = "success_no_data"
	ToolStatusError         ToolResultStatus = "error"
)

// ToolResult is what a tool hands back to the agent loop. Output is the
// JSON payload forwarded to the model; Message carries human-readable
// detail for no-data and error outcomes.
type ToolResult struct {
	Output     json.RawMessage  `json:"output,omitempty"`
	DurationMS float64          `json:"duration_ms"`
	Status     ToolResultStatus `json:"status"`
	Message    string           `json:"message,omitempty"`
}

// SuccessResult builds a success ToolResult, marshalling output to JSON.
func SuccessResult(output any, started time.Time) (ToolResult, error) {
	raw, err := json.Marshal(output)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{
		Output:     raw,
		DurationMS: durationMS(started),
		Status:     ToolStatusSuccess,
	}, nil
}

// NoDataResult builds a success_no_data ToolResult. The operation worked
// but produced nothing useful (empty search, missing record).
func NoDataResult(message string, started time.Time) ToolResult {
	return ToolResult{
		DurationMS: durationMS(started),
		Status:     ToolStatusSuccessNoData,
		Message:    message,
	}
}

// ErrorResult builds an error ToolResult.
func ErrorResult(message string, started time.Time) ToolResult {
	return ToolResult{
		DurationMS: durationMS(started),
		Status:     ToolStatusError,
		Message:    message,
	}
}

func durationMS(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000
}

// Tool is a capability the model may invoke during an agent run.
// InputSchema returns a JSON Schema object describing the arguments.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolFunc is the execution body of a NativeTool.
type ToolFunc func(ctx context.Context, args map[string]any) (ToolResult, error)

// NativeTool wraps a Go function as a Tool.
type NativeTool struct {
	name        string
	description string
	schema      json.RawMessage
	fn          ToolFunc
}

func NewNativeTool(name, description string, schema json.RawMessage, fn ToolFunc) *NativeTool {
	return &NativeTool{name: name, description: description, schema: schema, fn: fn}
}

func (t *NativeTool) Name() string                 { return t.name }
func (t *NativeTool) Description() string          { return t.description }
func (t *NativeTool) InputSchema() json.RawMessage { return t.schema }

func (t *NativeTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	return t.fn(ctx, args)
}

var _ Tool = (*NativeTool)(nil)

// ToolRegistry holds the tools offered to an agent. Registration order is
// preserved: ListTools and the agent's dispatch both follow it.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its name.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *ToolRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// ListNames returns tool names in registration order.
func (r *ToolRegistry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ListTools returns wire definitions for every tool, in registration order.
func (r *ToolRegistry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return defs
}

// CallTool dispatches to the named tool. An unknown name is an
// invalid_parameters error, mirroring what a model hallucinating a tool
// name should see.
func (r *ToolRegistry) CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	t, ok := r.Get(name)
	if !ok {
		return ToolResult{}, &ErrTool{
			Code:    ToolInvalidParameters,
			Tool:    name,
			Message: "unknown tool",
		}
	}
	return t.Execute(ctx, args)
}
