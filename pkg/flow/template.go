package flow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tombee/flowtrace/pkg/errors"
)

// Scope holds the data available for ${...} reference resolution.
// It provides access to flow inputs and the outputs of nodes that have
// already run.
type Scope struct {
	// Flow inputs accessible as ${inputs.name}
	Inputs map[string]interface{}

	// Node outputs accessible as ${nodes.node_id} or ${nodes.node_id.field}
	Nodes map[string]interface{}
}

// NewScope creates a scope seeded with the flow's resolved inputs.
func NewScope(inputs map[string]interface{}) *Scope {
	if inputs == nil {
		inputs = make(map[string]interface{})
	}
	return &Scope{
		Inputs: inputs,
		Nodes:  make(map[string]interface{}),
	}
}

// SetNodeOutput records a node's output so later nodes and flow outputs
// can reference it.
func (s *Scope) SetNodeOutput(nodeID string, output interface{}) {
	s.Nodes[nodeID] = output
}

// ToMap converts the scope to the map shape shared by reference
// resolution, condition evaluation, and transform expressions:
// inputs under "inputs", node outputs under "nodes".
func (s *Scope) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"inputs": s.Inputs,
		"nodes":  s.Nodes,
	}
}

// refPattern matches ${path.to.value} references inside strings.
var refPattern = regexp.MustCompile(`\$\{\s*([A-Za-z0-9_][A-Za-z0-9_.\-]*)\s*\}`)

// ResolveValue resolves ${...} references in v against the scope.
// A string that is exactly one reference resolves to the referenced value
// with its type preserved; strings with embedded references interpolate
// each reference as text. Maps and slices are resolved recursively.
func ResolveValue(v interface{}, scope *Scope) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, scope)
	case map[string]interface{}:
		resolved := make(map[string]interface{}, len(val))
		for k, item := range val {
			r, err := ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			resolved[k] = r
		}
		return resolved, nil
	case []interface{}:
		resolved := make([]interface{}, len(val))
		for i, item := range val {
			r, err := ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			resolved[i] = r
		}
		return resolved, nil
	default:
		return v, nil
	}
}

func resolveString(s string, scope *Scope) (interface{}, error) {
	matches := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A whole-string reference keeps the referenced value's type, which
	// lets node inputs and flow outputs carry non-string values
	// (including a still-streaming output) through untouched.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		return lookupPath(path, scope)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		value, err := lookupPath(s[m[2]:m[3]], scope)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%v", value)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func lookupPath(path string, scope *Scope) (interface{}, error) {
	parts := strings.Split(path, ".")
	var current interface{} = scope.ToMap()
	for i, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, &errors.ValidationError{
				Field:   path,
				Message: fmt.Sprintf("%s is not an object, cannot resolve %q", strings.Join(parts[:i], "."), part),
			}
		}
		current, ok = m[part]
		if !ok {
			return nil, &errors.ValidationError{
				Field:      path,
				Message:    fmt.Sprintf("reference %q not found", path),
				Suggestion: "references must name a flow input (${inputs.x}) or an earlier node (${nodes.y})",
			}
		}
	}
	return current, nil
}
