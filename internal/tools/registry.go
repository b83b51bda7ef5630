// Package tools holds the callable tools offered to agents, their
// safe/sensitive classification, and the at-most-once executor.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/llm"
)

// Class separates tools that may run unattended from tools whose effects
// need user approval first.
type Class int

const (
	Safe Class = iota
	Sensitive
)

func (c Class) String() string {
	if c == Sensitive {
		return "sensitive"
	}
	return "safe"
}

// Tool is a function an agent can call.
type Tool struct {
	Name        string
	Description string
	// Parameters is an object schema describing the arguments.
	Parameters *openapi3.Schema
	Call       func(ctx context.Context, args Args) (string, error)
	// Describe renders a pending call for an approval prompt. Optional.
	Describe func(args Args) string
}

type entry struct {
	tool  Tool
	class Class
}

// Registry holds tools by name. Classification is fixed at registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds t under its name.
func (r *Registry) Register(t Tool, class Class) error {
	if t.Name == "" {
		return fmt.Errorf("tools: name is required")
	}
	if t.Call == nil {
		return fmt.Errorf("tools: %s: call is required", t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = openapi3.NewObjectSchema()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tools: %s already registered", t.Name)
	}
	r.tools[t.Name] = entry{tool: t, class: class}
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the tool and its class.
func (r *Registry) Lookup(name string) (Tool, Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, e.class, ok
}

// IsSensitive reports whether name is registered as sensitive.
func (r *Registry) IsSensitive(name string) bool {
	_, class, ok := r.Lookup(name)
	return ok && class == Sensitive
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SensitiveNames returns the sensitive tool names, sorted.
func (r *Registry) SensitiveNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, e := range r.tools {
		if e.class == Sensitive {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Definitions renders every tool for the model.
func (r *Registry) Definitions() ([]llm.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		params, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tools: %s: marshal schema: %w", name, err)
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs, nil
}

// Decode parses and validates a call's arguments against the tool's schema.
func (r *Registry) Decode(call dialog.ToolCall) (Tool, Args, error) {
	t, _, ok := r.Lookup(call.Name)
	if !ok {
		return Tool{}, nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return t, nil, fmt.Errorf("%s: invalid arguments: %w", call.Name, err)
	}
	if err := t.Parameters.VisitJSON(map[string]any(args)); err != nil {
		return t, nil, fmt.Errorf("%s: invalid arguments: %w", call.Name, err)
	}
	return t, args, nil
}

// Describe renders a human-readable summary of a pending call.
func (r *Registry) Describe(call dialog.ToolCall) string {
	t, _, ok := r.Lookup(call.Name)
	if ok && t.Describe != nil {
		if args, err := parseArgs(call.Arguments); err == nil {
			return t.Describe(args)
		}
	}
	args := strings.TrimSpace(string(call.Arguments))
	if args == "" || args == "{}" {
		return call.Name
	}
	return fmt.Sprintf("%s with arguments %s", call.Name, args)
}

func parseArgs(raw json.RawMessage) (Args, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Args{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return Args(args), nil
}
