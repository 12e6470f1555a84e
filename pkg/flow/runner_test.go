package flow

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/flowtrace/pkg/llm"
	"github.com/tombee/flowtrace/pkg/trace"
	"github.com/tombee/flowtrace/pkg/trace/stream"
)

func upperTool() Tool {
	return NewTool("upper", "uppercases the text input", func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
		text, _ := inputs["text"].(string)
		return map[string]interface{}{"text": strings.ToUpper(text)}, nil
	})
}

func failingTool(msg string) Tool {
	return NewTool("boom", "always fails", func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("%s", msg)
	})
}

func mustParse(t *testing.T, yaml string) *Definition {
	t.Helper()
	def, err := Parse([]byte(yaml))
	require.NoError(t, err)
	return def
}

func TestRunToolFlow(t *testing.T) {
	tools := NewToolRegistry()
	require.NoError(t, tools.Register(upperTool()))
	runner := NewRunner(tools, nil)

	def := mustParse(t, `
name: shout
inputs:
  - name: topic
    type: string
nodes:
  - id: shout
    kind: tool
    tool: upper
    with:
      text: ${inputs.topic}
outputs:
  - name: loud
    from: ${nodes.shout.text}
`)

	ctx := trace.StartRecording(context.Background(), "run-1", "shout")
	outputs, err := runner.Run(ctx, def, map[string]interface{}{"topic": "cats"})
	require.NoError(t, err)
	assert.Equal(t, "CATS", outputs["loud"])

	roots := trace.FromContext(ctx).Roots()
	require.Len(t, roots, 1)
	root := roots[0]
	assert.Equal(t, trace.TypeFlow, root.Type)
	assert.Equal(t, "shout", root.Name)
	require.Len(t, root.Children, 1)

	child := root.Children[0]
	assert.Equal(t, trace.TypeTool, child.Type)
	assert.Equal(t, "upper", child.Name)
	assert.Equal(t, "cats", child.Inputs["text"])
	assert.Equal(t, root.ID, child.ParentID)

	serialized := trace.EndRecording(ctx, "run-1")
	require.Len(t, serialized, 1)
}

func TestRunLLMFlow(t *testing.T) {
	provider := &llm.ScriptProvider{
		Responses: map[string]string{"tell a joke about cats": "why did the cat cross the road"},
	}
	runner := NewRunner(nil, provider)

	def := mustParse(t, `
name: joke
inputs:
  - name: topic
    type: string
nodes:
  - id: joke
    kind: llm
    prompt: tell a joke about ${inputs.topic}
outputs:
  - name: joke
    from: ${nodes.joke}
`)

	ctx := trace.StartRecording(context.Background(), "run-2", "joke")
	outputs, err := runner.Run(ctx, def, map[string]interface{}{"topic": "cats"})
	require.NoError(t, err)
	assert.Equal(t, "why did the cat cross the road", outputs["joke"])

	root := trace.FromContext(ctx).Roots()[0]
	require.Len(t, root.Children, 1)
	child := root.Children[0]
	assert.Equal(t, trace.TypeLLM, child.Type)
	assert.Equal(t, "script.joke", child.Name)
	assert.Equal(t, "tell a joke about cats", child.Inputs["prompt"])
}

func TestRunStreamingLLMFlow(t *testing.T) {
	provider := &llm.ScriptProvider{
		Responses: map[string]string{"stream it": "one two three"},
	}
	runner := NewRunner(nil, provider)

	def := mustParse(t, `
name: streamer
nodes:
  - id: words
    kind: llm
    prompt: stream it
    stream: true
outputs:
  - name: words
    from: ${nodes.words}
`)

	ctx := trace.StartRecording(context.Background(), "run-3", "streamer")
	outputs, err := runner.Run(ctx, def, nil)
	require.NoError(t, err)

	proxy, ok := outputs["words"].(*stream.Proxy)
	require.True(t, ok, "streamed output should be a live proxy")
	assert.False(t, proxy.Done(), "proxy must not be consumed by the runner")

	rec := trace.FromContext(ctx)
	assert.False(t, rec.Gate().AllExhausted(), "stream still open")

	items, err := stream.Drain(ctx, proxy)
	require.NoError(t, err)
	assert.Equal(t, []any{"one", " two", " three"}, items)
	assert.True(t, rec.Gate().AllExhausted())

	child := rec.Roots()[0].Children[0]
	assert.Equal(t, []any{"one", " two", " three"}, child.Output)

	serialized := trace.EndRecording(ctx, "run-3")
	require.Len(t, serialized, 1)
}

func TestStreamedNodeFeedsPrompt(t *testing.T) {
	provider := &llm.ScriptProvider{
		Responses: map[string]string{
			"first":                  "partial answer",
			"expand: partial answer": "full answer",
		},
	}
	runner := NewRunner(nil, provider)

	def := mustParse(t, `
name: chain
nodes:
  - id: draft
    kind: llm
    prompt: first
    stream: true
  - id: final
    kind: llm
    prompt: "expand: ${nodes.draft}"
outputs:
  - name: answer
    from: ${nodes.final}
`)

	ctx := trace.StartRecording(context.Background(), "run-4", "chain")
	outputs, err := runner.Run(ctx, def, nil)
	require.NoError(t, err)
	assert.Equal(t, "full answer", outputs["answer"])

	// Draining the draft stream to build the second prompt also
	// finalizes the draft node's trace output.
	rec := trace.FromContext(ctx)
	assert.True(t, rec.Gate().AllExhausted())
	draft := rec.Roots()[0].Children[0]
	assert.Equal(t, []any{"partial", " answer"}, draft.Output)
}

func TestRunTransformFlow(t *testing.T) {
	runner := NewRunner(nil, nil)

	def := mustParse(t, `
name: reshape
inputs:
  - name: topic
    type: string
nodes:
  - id: build
    kind: transform
    expression: '{prompt: ("about " + .inputs.topic)}'
outputs:
  - name: prompt
    from: ${nodes.build.prompt}
`)

	ctx := trace.StartRecording(context.Background(), "run-5", "reshape")
	outputs, err := runner.Run(ctx, def, map[string]interface{}{"topic": "cats"})
	require.NoError(t, err)
	assert.Equal(t, "about cats", outputs["prompt"])

	child := trace.FromContext(ctx).Roots()[0].Children[0]
	assert.Equal(t, trace.TypeFunction, child.Type)
	assert.Equal(t, "build", child.Name)
}

func TestConditionSkipsNode(t *testing.T) {
	tools := NewToolRegistry()
	require.NoError(t, tools.Register(upperTool()))
	runner := NewRunner(tools, nil)

	def := mustParse(t, `
name: maybe
inputs:
  - name: loud
    type: boolean
    default: false
nodes:
  - id: shout
    kind: tool
    tool: upper
    if: inputs.loud == true
    with:
      text: hi
`)

	ctx := trace.StartRecording(context.Background(), "run-6", "maybe")
	outputs, err := runner.Run(ctx, def, nil)
	require.NoError(t, err)
	assert.Empty(t, outputs, "skipped node leaves no output")

	root := trace.FromContext(ctx).Roots()[0]
	assert.Empty(t, root.Children, "skipped node leaves no trace")
}

func TestNodeFailurePropagates(t *testing.T) {
	tools := NewToolRegistry()
	require.NoError(t, tools.Register(failingTool("disk on fire")))
	runner := NewRunner(tools, nil)

	def := mustParse(t, `
name: doomed
nodes:
  - id: boom
    kind: tool
    tool: boom
`)

	ctx := trace.StartRecording(context.Background(), "run-7", "doomed")
	_, err := runner.Run(ctx, def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node boom")
	assert.Contains(t, err.Error(), "disk on fire")

	root := trace.FromContext(ctx).Roots()[0]
	require.NotNil(t, root.Error, "flow trace records the failure")
	child := root.Children[0]
	require.NotNil(t, child.Error)
	assert.Equal(t, "disk on fire", child.Error.Message)
}

func TestUnknownToolFails(t *testing.T) {
	runner := NewRunner(NewToolRegistry(), nil)

	def := mustParse(t, `
name: missing
nodes:
  - id: x
    kind: tool
    tool: nosuch
`)

	ctx := trace.StartRecording(context.Background(), "run-8", "missing")
	_, err := runner.Run(ctx, def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool not found: nosuch")
}

func TestLLMNodeWithoutProvider(t *testing.T) {
	runner := NewRunner(nil, nil)

	def := mustParse(t, `
name: f
nodes:
  - id: a
    kind: llm
    prompt: hi
`)

	_, err := runner.Run(context.Background(), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider")
}

func TestNoDeclaredOutputsReturnsNodeOutputs(t *testing.T) {
	tools := NewToolRegistry()
	require.NoError(t, tools.Register(upperTool()))
	runner := NewRunner(tools, nil)

	def := mustParse(t, `
name: implicit
nodes:
  - id: shout
    kind: tool
    tool: upper
    with:
      text: hi
`)

	outputs, err := runner.Run(context.Background(), def, nil)
	require.NoError(t, err)
	result, ok := outputs["shout"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "HI", result["text"])
}

func TestRunWithoutRecordingStillExecutes(t *testing.T) {
	tools := NewToolRegistry()
	require.NoError(t, tools.Register(upperTool()))
	runner := NewRunner(tools, nil)

	def := mustParse(t, `
name: untraced
nodes:
  - id: shout
    kind: tool
    tool: upper
    with:
      text: quiet
`)

	outputs, err := runner.Run(context.Background(), def, nil)
	require.NoError(t, err)
	result := outputs["shout"].(map[string]interface{})
	assert.Equal(t, "QUIET", result["text"])
}
