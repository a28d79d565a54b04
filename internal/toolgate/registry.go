package toolgate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ifBars/orchestrix/internal/domain"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolInputSize  = 10 << 20
)

// Tool is a registered capability a worker may invoke. Implementations
// cover filesystem, shell, code-edit, delegation, and external tool-server
// adapters.
type Tool interface {
	Name() string
	Classification() domain.ToolClassification
	InputSchema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Result is a tool's outcome, handed back to the worker loop for
// inclusion in the next turn's observations.
type Result struct {
	Output  string
	IsError bool
}

// Registry holds every tool a sub-agent may call, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, for plan-time prompting and for
// populating the external tool-server discovery cache's local half.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// dispatch validates and runs a tool directly, with no approval check.
// Callers that need approval gating should use Gate.Invoke instead.
func (r *Registry) dispatch(ctx context.Context, name string, input json.RawMessage) (*Result, error) {
	if len(name) > MaxToolNameLength {
		return &Result{Output: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength), IsError: true}, nil
	}
	if len(input) > MaxToolInputSize {
		return &Result{Output: fmt.Sprintf("tool input exceeds maximum size of %d bytes", MaxToolInputSize), IsError: true}, nil
	}

	t, ok := r.Get(name)
	if !ok {
		return &Result{Output: "tool not found: " + name, IsError: true}, nil
	}
	return t.Execute(ctx, input)
}
