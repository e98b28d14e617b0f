package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/everloop-ai/everloop/internal/providers"
)

// Tool is the contract every tool implements: given decoded JSON arguments
// and a context carrying the interrupt probe, return a text result or an
// error result. Tools never panic outward; the registry recovers.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the closed, compile-time set of named tools. It is built
// once at startup and immutable afterwards, so concurrent dispatch needs no
// locking.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.tools[t.Name()] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Defs returns the tool schemas advertised to the model, sorted by name for
// a stable prompt.
func (r *Registry) Defs() []providers.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// execute runs one tool, converting a panic into an error result.
func (r *Registry) execute(ctx context.Context, t Tool, args map[string]interface{}) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = ErrorResult(fmt.Sprintf("tool %s panicked: %v", t.Name(), rec))
		}
	}()
	result = t.Execute(ctx, args)
	if result == nil {
		result = ErrorResult(fmt.Sprintf("tool %s returned no result", t.Name()))
	}
	return result
}
