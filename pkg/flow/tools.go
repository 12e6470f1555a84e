package flow

import (
	"context"
	"sync"

	"github.com/tombee/flowtrace/pkg/errors"
)

// Tool represents an executable tool with a name and description.
type Tool interface {
	// Name returns the tool identifier
	Name() string

	// Description returns what the tool does
	Description() string

	// Execute runs the tool with the given inputs and returns the output.
	Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)
}

// ToolRegistry holds the tools available to a flow's tool nodes.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice is a validation error.
func (r *ToolRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return &errors.ValidationError{
			Field:   "tool",
			Message: "tool " + t.Name() + " is already registered",
		}
	}
	r.tools[t.Name()] = t
	return nil
}

// Get retrieves a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "tool", ID: name}
	}
	return t, nil
}

// ListTools returns all registered tools.
func (r *ToolRegistry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// funcTool adapts a plain function into a Tool.
type funcTool struct {
	name        string
	description string
	fn          func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)
}

// NewTool wraps a function as a Tool.
func NewTool(name, description string, fn func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)) Tool {
	return &funcTool{name: name, description: description, fn: fn}
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.description }

func (t *funcTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	return t.fn(ctx, inputs)
}
