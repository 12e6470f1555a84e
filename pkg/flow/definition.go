// Package flow provides YAML flow definitions and the runner that executes
// them while recording an execution trace.
//
// A flow is a named sequence of nodes (tool, llm, transform) with declared
// inputs and outputs. The runner wraps every node execution in trace
// push/pop so the finished run can be read back as a call tree, including
// streamed model output captured without breaking its single pass.
package flow

import (
	"fmt"
	"os"

	"github.com/tombee/flowtrace/pkg/errors"
	"gopkg.in/yaml.v3"
)

// NodeKind identifies what a flow node executes.
type NodeKind string

const (
	// NodeKindTool runs a registered tool.
	NodeKindTool NodeKind = "tool"
	// NodeKindLLM runs a model completion, optionally streamed.
	NodeKindLLM NodeKind = "llm"
	// NodeKindTransform runs a jq expression over the flow context.
	NodeKindTransform NodeKind = "transform"
)

// Definition represents a YAML-based flow definition.
// The Version field is optional and defaults to "1.0", allowing minimal
// definitions that only carry a name and nodes.
type Definition struct {
	// Name is the flow identifier
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context about the flow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version tracks the flow definition schema version (optional, defaults to "1.0")
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Inputs defines the expected input parameters for the flow
	Inputs []InputDefinition `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Nodes are the executable units of the flow, run in order
	Nodes []NodeDefinition `yaml:"nodes" json:"nodes"`

	// Outputs define what data is returned when the flow completes
	Outputs []OutputDefinition `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// InputDefinition describes a flow input parameter.
// Inputs without a default value are required.
type InputDefinition struct {
	// Name is the input parameter identifier
	Name string `yaml:"name" json:"name"`

	// Type specifies the data type (string, number, boolean, object, array)
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// Default provides a fallback value if the input is not provided.
	// Inputs without a default are required.
	Default interface{} `yaml:"default,omitempty" json:"default,omitempty"`

	// Description explains what this input is for
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// NodeDefinition describes one executable node of a flow.
type NodeDefinition struct {
	// ID is the node identifier, unique within the flow
	ID string `yaml:"id" json:"id"`

	// Kind selects the execution path (tool, llm, transform)
	Kind NodeKind `yaml:"kind" json:"kind"`

	// If is an optional condition expression; when it evaluates false
	// the node is skipped entirely
	If string `yaml:"if,omitempty" json:"if,omitempty"`

	// Tool is the registered tool name (kind: tool)
	Tool string `yaml:"tool,omitempty" json:"tool,omitempty"`

	// With are the node inputs; values may reference flow inputs and
	// earlier node outputs with ${inputs.x} / ${nodes.y} placeholders
	With map[string]interface{} `yaml:"with,omitempty" json:"with,omitempty"`

	// Prompt is the user prompt (kind: llm)
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`

	// System is the optional system prompt (kind: llm)
	System string `yaml:"system,omitempty" json:"system,omitempty"`

	// Model overrides the provider's default model (kind: llm)
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Stream requests a streamed response (kind: llm). Streamed output
	// stays lazy for the flow's consumer while being captured into the
	// trace.
	Stream bool `yaml:"stream,omitempty" json:"stream,omitempty"`

	// Expression is the jq expression run over the flow context
	// (kind: transform)
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// OutputDefinition describes one flow output.
type OutputDefinition struct {
	// Name is the output key
	Name string `yaml:"name" json:"name"`

	// From references the value, e.g. ${nodes.joke} or ${inputs.topic}
	From string `yaml:"from" json:"from"`
}

// Load reads and parses a flow definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading flow file %s", path)
	}
	return Parse(data)
}

// Parse parses a flow definition from YAML bytes and validates it.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.Wrap(err, "parsing flow definition")
	}
	if def.Version == "" {
		def.Version = "1.0"
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition for structural problems.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "flow name is required",
			Suggestion: "add a top-level 'name' field",
		}
	}
	if len(d.Nodes) == 0 {
		return &errors.ValidationError{
			Field:      "nodes",
			Message:    "flow has no nodes",
			Suggestion: "add at least one node",
		}
	}

	seen := make(map[string]bool, len(d.Nodes))
	for i, node := range d.Nodes {
		if node.ID == "" {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("nodes[%d].id", i),
				Message: "node id is required",
			}
		}
		if seen[node.ID] {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("nodes[%d].id", i),
				Message: fmt.Sprintf("duplicate node id %q", node.ID),
			}
		}
		seen[node.ID] = true

		switch node.Kind {
		case NodeKindTool:
			if node.Tool == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("nodes[%d].tool", i),
					Message: "tool nodes require a tool name",
				}
			}
		case NodeKindLLM:
			if node.Prompt == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("nodes[%d].prompt", i),
					Message: "llm nodes require a prompt",
				}
			}
		case NodeKindTransform:
			if node.Expression == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("nodes[%d].expression", i),
					Message: "transform nodes require an expression",
				}
			}
		default:
			return &errors.ValidationError{
				Field:      fmt.Sprintf("nodes[%d].kind", i),
				Message:    fmt.Sprintf("unknown node kind %q", node.Kind),
				Suggestion: "use one of: tool, llm, transform",
			}
		}
	}
	return nil
}

// ResolveInputs merges provided values with declared defaults. Missing
// required inputs (no default) fail with a validation error; unknown
// provided inputs are kept but reported back for the caller to warn about.
func (d *Definition) ResolveInputs(provided map[string]interface{}) (map[string]interface{}, []string, error) {
	resolved := make(map[string]interface{}, len(d.Inputs))
	remaining := make(map[string]interface{}, len(provided))
	for k, v := range provided {
		remaining[k] = v
	}

	var missing []string
	for _, input := range d.Inputs {
		if v, ok := remaining[input.Name]; ok {
			resolved[input.Name] = v
			delete(remaining, input.Name)
			continue
		}
		if input.Default != nil {
			resolved[input.Name] = input.Default
			continue
		}
		missing = append(missing, input.Name)
	}

	if len(missing) > 0 {
		return nil, nil, &errors.ValidationError{
			Field:      "inputs",
			Message:    fmt.Sprintf("required input(s) %v are missing for %q", missing, d.Name),
			Suggestion: "pass the missing inputs or declare defaults in the flow file",
		}
	}

	// Unknown inputs are carried through, not dropped.
	var unknown []string
	for k, v := range remaining {
		resolved[k] = v
		unknown = append(unknown, k)
	}
	return resolved, unknown, nil
}
