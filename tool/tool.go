// Package tool implements the capability subsystem offered to the reasoning
// loop: a registry of named tools plus the concrete web-search and trends
// adapters. Tools never return errors to the loop; every failure becomes a
// short human-readable observation string instead.
package tool

import (
	"context"

	"github.com/trendchat/trendchat/model"
)

// Tool is a synchronous string-in / string-out capability exposed to the
// reasoning loop.
//
// Invoke must never panic and never surface an error: on any underlying
// failure (timeout, auth, malformed response) it returns a short error string
// the loop consumes as an observation. Implementations must be safe for
// concurrent use.
type Tool interface {
	// Name returns the unique identifier used in function call declarations.
	Name() string

	// Description is the natural-language usage hint handed to the model.
	Description() string

	// Invoke runs the capability and returns the observation string.
	Invoke(ctx context.Context, input string) string
}

// inputSchema is the JSON schema shared by all registry tools: a single
// free-text input argument.
func inputSchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{"input"},
	}
}

// Registry holds the set of capabilities available to the reasoning loop.
// It is built once per process from configuration and is immutable afterwards.
type Registry struct {
	tools []Tool
	index map[string]Tool
}

// NewRegistry constructs a registry from the given tools, preserving order.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{index: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, exists := r.index[t.Name()]; exists {
			continue
		}
		r.tools = append(r.tools, t)
		r.index[t.Name()] = t
	}
	return r
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Get returns the named tool, if registered.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.index[name]
	return t, ok
}

// Empty reports whether no capabilities are available.
func (r *Registry) Empty() bool { return len(r.tools) == 0 }

// Definitions exposes the registry as model tool definitions.
func (r *Registry) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  inputSchema(t.Description()),
		})
	}
	return defs
}
