// Package tools provides the thread-safe tool registry consumed by the
// host bridge. The concrete tool catalog is supplied by the embedding
// program; a small set of built-in tools lives alongside the registry
// for the CLI and tests.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/scripthost/pkg/models"
)

// Tool is a single callable capability.
type Tool interface {
	// Name returns the registry key for the tool.
	Name() string

	// Description returns a human-readable summary.
	Description() string

	// Schema returns a JSON schema for the tool parameters, or nil when
	// the tool accepts arbitrary JSON.
	Schema() json.RawMessage

	// Execute runs the tool with the given raw JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Registry manages available tools with thread-safe registration and
// lookup. It is shared between runs and safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool under its name, replacing any previous tool with
// the same name. A tool that declares a parameter schema has the schema
// compiled once here; invalid schemas are rejected.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}

	var compiled *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name+".json", strings.NewReader(string(raw))); err != nil {
			return fmt.Errorf("tool %s: add schema: %w", name, err)
		}
		s, err := c.Compile(name + ".json")
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", name, err)
		}
		compiled = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
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

// Call dispatches one tool call. Arguments are validated against the
// tool's schema when one was declared. Failures are returned as errors;
// the bridge converts them into catchable script errors.
func (r *Registry) Call(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
	name := call.Function.Name
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}

	args := call.Function.Arguments
	if args == "" {
		args = "{}"
	}
	if len(args) > MaxToolParamsSize {
		return nil, fmt.Errorf("tool %s: parameters exceed %d bytes", name, MaxToolParamsSize)
	}

	if schema != nil {
		var doc any
		if err := json.Unmarshal([]byte(args), &doc); err != nil {
			return nil, fmt.Errorf("tool %s: invalid JSON arguments: %w", name, err)
		}
		if err := schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("tool %s: arguments do not match schema: %w", name, err)
		}
	}

	result, err := tool.Execute(ctx, json.RawMessage(args))
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	if result == nil {
		result = &models.ToolResult{}
	}
	result.ToolCallID = call.ID
	return result, nil
}
