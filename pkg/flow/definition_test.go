package flow

import (
	"strings"
	"testing"

	"github.com/tombee/flowtrace/pkg/errors"
)

func TestParseMinimalFlow(t *testing.T) {
	def, err := Parse([]byte(`
name: hello
nodes:
  - id: greet
    kind: tool
    tool: upper
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if def.Name != "hello" {
		t.Errorf("expected name hello, got %s", def.Name)
	}
	if def.Version != "1.0" {
		t.Errorf("expected default version 1.0, got %s", def.Version)
	}
	if len(def.Nodes) != 1 || def.Nodes[0].Kind != NodeKindTool {
		t.Errorf("unexpected nodes: %+v", def.Nodes)
	}
}

func TestParseFullFlow(t *testing.T) {
	def, err := Parse([]byte(`
name: joke
description: Tells a joke about a topic
inputs:
  - name: topic
    type: string
  - name: style
    type: string
    default: dry
nodes:
  - id: build
    kind: transform
    expression: '{prompt: ("tell a " + .inputs.style + " joke about " + .inputs.topic)}'
  - id: joke
    kind: llm
    prompt: ${nodes.build.prompt}
    stream: true
    if: inputs.topic != ""
outputs:
  - name: joke
    from: ${nodes.joke}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(def.Inputs) != 2 || len(def.Nodes) != 2 || len(def.Outputs) != 1 {
		t.Fatalf("unexpected shape: %+v", def)
	}
	if !def.Nodes[1].Stream {
		t.Error("expected stream: true on llm node")
	}
	if def.Nodes[1].If == "" {
		t.Error("expected condition on llm node")
	}
}

func TestParseValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "nodes:\n  - id: a\n    kind: tool\n    tool: t\n",
			wantErr: "flow name is required",
		},
		{
			name:    "no nodes",
			yaml:    "name: empty\n",
			wantErr: "flow has no nodes",
		},
		{
			name:    "missing node id",
			yaml:    "name: f\nnodes:\n  - kind: tool\n    tool: t\n",
			wantErr: "node id is required",
		},
		{
			name:    "duplicate node id",
			yaml:    "name: f\nnodes:\n  - id: a\n    kind: tool\n    tool: t\n  - id: a\n    kind: tool\n    tool: t\n",
			wantErr: "duplicate node id",
		},
		{
			name:    "tool node without tool",
			yaml:    "name: f\nnodes:\n  - id: a\n    kind: tool\n",
			wantErr: "tool nodes require a tool name",
		},
		{
			name:    "llm node without prompt",
			yaml:    "name: f\nnodes:\n  - id: a\n    kind: llm\n",
			wantErr: "llm nodes require a prompt",
		},
		{
			name:    "transform node without expression",
			yaml:    "name: f\nnodes:\n  - id: a\n    kind: transform\n",
			wantErr: "transform nodes require an expression",
		},
		{
			name:    "unknown kind",
			yaml:    "name: f\nnodes:\n  - id: a\n    kind: magic\n",
			wantErr: "unknown node kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestResolveInputs(t *testing.T) {
	def := &Definition{
		Name: "f",
		Inputs: []InputDefinition{
			{Name: "topic", Type: "string"},
			{Name: "style", Type: "string", Default: "dry"},
		},
	}

	t.Run("defaults applied", func(t *testing.T) {
		resolved, unknown, err := def.ResolveInputs(map[string]interface{}{"topic": "cats"})
		if err != nil {
			t.Fatalf("ResolveInputs failed: %v", err)
		}
		if resolved["topic"] != "cats" || resolved["style"] != "dry" {
			t.Errorf("unexpected inputs: %v", resolved)
		}
		if len(unknown) != 0 {
			t.Errorf("expected no unknown inputs, got %v", unknown)
		}
	})

	t.Run("provided overrides default", func(t *testing.T) {
		resolved, _, err := def.ResolveInputs(map[string]interface{}{"topic": "cats", "style": "absurd"})
		if err != nil {
			t.Fatalf("ResolveInputs failed: %v", err)
		}
		if resolved["style"] != "absurd" {
			t.Errorf("expected provided value to win, got %v", resolved["style"])
		}
	})

	t.Run("missing required input", func(t *testing.T) {
		_, _, err := def.ResolveInputs(nil)
		if err == nil {
			t.Fatal("expected error for missing required input")
		}
		if !strings.Contains(err.Error(), "topic") {
			t.Errorf("error should name the missing input: %v", err)
		}
	})

	t.Run("unknown inputs pass through", func(t *testing.T) {
		resolved, unknown, err := def.ResolveInputs(map[string]interface{}{"topic": "cats", "extra": 1})
		if err != nil {
			t.Fatalf("ResolveInputs failed: %v", err)
		}
		if resolved["extra"] != 1 {
			t.Error("unknown input should be carried through")
		}
		if len(unknown) != 1 || unknown[0] != "extra" {
			t.Errorf("expected [extra], got %v", unknown)
		}
	})
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/flow.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
