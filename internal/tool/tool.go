// Package tool defines the boundary between the execution loop and its
// capabilities. A tool is an opaque callable with a name, a JSON schema, and
// an execute contract; tools signal failure by returning an error-shaped
// result and never by crashing the loop.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/wardenlabs/warden/internal/provider"
)

// Result is what a tool execution hands back as an observation.
type Result struct {
	Content string
	IsError bool
}

// Errorf builds an error-shaped result.
func Errorf(format string, args ...any) Result {
	return Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Tool is one capability offered to the model.
type Tool interface {
	Name() string
	Schema() provider.ToolSchema
	Execute(ctx context.Context, input json.RawMessage) Result
}

// Registry holds the tools available to one orchestrator instance.
// Registration is open so capabilities can be added at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns every registered schema in name order, ready to hand to a
// model backend.
func (r *Registry) Schemas() []provider.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]provider.ToolSchema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// Execute dispatches a call to the named tool. An unknown tool is an
// error-shaped result, not a crash, so the model sees its mistake and can
// correct course.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) Result {
	t, ok := r.Get(name)
	if !ok {
		return Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, input)
}

// objectSchema builds the standard JSON-schema object wrapper.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
