package flow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tombee/flowtrace/internal/jq"
	"github.com/tombee/flowtrace/internal/log"
	"github.com/tombee/flowtrace/pkg/errors"
	"github.com/tombee/flowtrace/pkg/flow/expression"
	"github.com/tombee/flowtrace/pkg/llm"
	"github.com/tombee/flowtrace/pkg/trace"
	"github.com/tombee/flowtrace/pkg/trace/stream"
)

// Runner executes flow definitions node by node, wrapping the whole run
// and every node in trace records. Streamed model output stays lazy: the
// node's trace holds a proxy whose buffer is finalized when the flow's
// consumer exhausts the stream.
type Runner struct {
	tools    *ToolRegistry
	provider llm.Provider
	eval     *expression.Evaluator
	jq       *jq.Executor
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithJQExecutor replaces the default jq executor used by transform nodes.
func WithJQExecutor(exec *jq.Executor) RunnerOption {
	return func(r *Runner) {
		r.jq = exec
	}
}

// NewRunner creates a runner over the given tools and model provider.
// Either may be nil when the flow uses no nodes of that kind.
func NewRunner(tools *ToolRegistry, provider llm.Provider, opts ...RunnerOption) *Runner {
	r := &Runner{
		tools:    tools,
		provider: provider,
		eval:     expression.New(),
		jq:       jq.NewExecutor(0, 0),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tools == nil {
		r.tools = NewToolRegistry()
	}
	return r
}

// Run executes the flow with the given inputs and returns the flow
// outputs. Recording must already be active on ctx for the run to be
// traced; without it the flow still executes, just unobserved.
//
// Output values referencing a streaming node are returned as live
// *stream.Proxy handles. The caller consumes them at its own pace;
// the trace is updated when they are exhausted.
func (r *Runner) Run(ctx context.Context, def *Definition, inputs map[string]interface{}) (map[string]interface{}, error) {
	resolved, unknown, err := def.ResolveInputs(inputs)
	if err != nil {
		return nil, err
	}
	for _, name := range unknown {
		r.logger.Warn("input not declared by flow, passing through", "flow", def.Name, "input", name)
	}

	trace.Push(ctx, trace.New(trace.TypeFlow, "", def.Name, resolved))
	outputs, err := r.runNodes(ctx, def, NewScope(resolved))
	if err != nil {
		trace.Pop(ctx, nil, err)
		return nil, err
	}
	trace.Pop(ctx, outputs, nil)
	return outputs, nil
}

func (r *Runner) runNodes(ctx context.Context, def *Definition, scope *Scope) (map[string]interface{}, error) {
	for _, node := range def.Nodes {
		if node.If != "" {
			ok, err := r.eval.Evaluate(node.If, scope.ToMap())
			if err != nil {
				return nil, errors.Wrapf(err, "evaluating condition for node %s", node.ID)
			}
			if !ok {
				r.logger.Debug("skipping node, condition false", "flow", def.Name, "node", node.ID)
				continue
			}
		}

		output, err := r.runNode(ctx, def, node, scope)
		if err != nil {
			return nil, err
		}
		scope.SetNodeOutput(node.ID, output)
	}
	return r.flowOutputs(def, scope)
}

// runNode resolves the node's inputs, executes it between a trace push
// and pop, and returns the recorded output. For streaming llm nodes the
// returned value is the trace's proxy over the provider stream.
func (r *Runner) runNode(ctx context.Context, def *Definition, node NodeDefinition, scope *Scope) (interface{}, error) {
	logger := log.WithNodeContext(r.logger, runID(ctx), node.ID)

	var output interface{}
	var err error
	switch node.Kind {
	case NodeKindTool:
		output, err = r.runTool(ctx, node, scope)
	case NodeKindLLM:
		output, err = r.runLLM(ctx, node, scope)
	case NodeKindTransform:
		output, err = r.runTransform(ctx, node, scope)
	default:
		// Validate rejects unknown kinds at parse time.
		err = &errors.ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown node kind %q", node.Kind),
		}
	}
	if err != nil {
		logger.Error("node failed", log.Error(err))
		trace.Pop(ctx, nil, err)
		return nil, errors.Wrapf(err, "node %s", node.ID)
	}

	result := trace.Pop(ctx, output, nil)
	logger.Debug("node complete", "kind", string(node.Kind))
	return result, nil
}

func (r *Runner) runTool(ctx context.Context, node NodeDefinition, scope *Scope) (interface{}, error) {
	tool, err := r.tools.Get(node.Tool)
	if err != nil {
		trace.Push(ctx, trace.New(trace.TypeTool, "", node.Tool, nil))
		return nil, err
	}

	resolved, err := ResolveValue(node.With, scope)
	if err != nil {
		trace.Push(ctx, trace.New(trace.TypeTool, "", node.Tool, nil))
		return nil, err
	}
	inputs, err := materializeMap(ctx, asMap(resolved))
	if err != nil {
		trace.Push(ctx, trace.New(trace.TypeTool, "", node.Tool, nil))
		return nil, err
	}

	trace.Push(ctx, trace.New(trace.TypeTool, "", node.Tool, inputs))
	return tool.Execute(ctx, inputs)
}

func (r *Runner) runLLM(ctx context.Context, node NodeDefinition, scope *Scope) (interface{}, error) {
	if r.provider == nil {
		trace.Push(ctx, trace.New(trace.TypeLLM, "", node.ID, nil))
		return nil, &errors.ConfigError{
			Key:    "provider",
			Reason: "flow has llm nodes but no provider is configured",
		}
	}

	prompt, err := r.resolveText(ctx, node.Prompt, scope)
	if err != nil {
		trace.Push(ctx, trace.New(trace.TypeLLM, r.provider.Name(), node.ID, nil))
		return nil, err
	}
	system, err := r.resolveText(ctx, node.System, scope)
	if err != nil {
		trace.Push(ctx, trace.New(trace.TypeLLM, r.provider.Name(), node.ID, nil))
		return nil, err
	}

	inputs := map[string]interface{}{"prompt": prompt}
	if system != "" {
		inputs["system"] = system
	}
	if node.Model != "" {
		inputs["model"] = node.Model
	}
	if node.Stream {
		inputs["stream"] = true
	}
	trace.Push(ctx, trace.New(trace.TypeLLM, r.provider.Name(), node.ID, inputs))

	req := llm.CompletionRequest{
		Prompt: prompt,
		System: system,
		Model:  node.Model,
	}
	if node.Stream {
		ch, err := r.provider.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		return &chunkStream{ch: ch}, nil
	}

	resp, err := r.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}

func (r *Runner) runTransform(ctx context.Context, node NodeDefinition, scope *Scope) (interface{}, error) {
	trace.Push(ctx, trace.New(trace.TypeFunction, "", node.ID, map[string]interface{}{
		"expression": node.Expression,
	}))

	// jq marshals its input to JSON, so any still-streaming value in
	// scope has to be drained first.
	data, err := materializeMap(ctx, scope.ToMap())
	if err != nil {
		return nil, err
	}
	return r.jq.Execute(ctx, node.Expression, data)
}

// flowOutputs resolves the declared outputs against the scope. A flow
// without declared outputs returns all node outputs keyed by node id.
func (r *Runner) flowOutputs(def *Definition, scope *Scope) (map[string]interface{}, error) {
	if len(def.Outputs) == 0 {
		outputs := make(map[string]interface{}, len(scope.Nodes))
		for id, v := range scope.Nodes {
			outputs[id] = v
		}
		return outputs, nil
	}

	outputs := make(map[string]interface{}, len(def.Outputs))
	for _, out := range def.Outputs {
		v, err := ResolveValue(out.From, scope)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving output %s", out.Name)
		}
		outputs[out.Name] = v
	}
	return outputs, nil
}

// resolveText resolves references in a string field. Any streaming value
// it references is drained, so prompts see the complete upstream text.
func (r *Runner) resolveText(ctx context.Context, s string, scope *Scope) (string, error) {
	if s == "" {
		return "", nil
	}
	v, err := ResolveValue(s, scope)
	if err != nil {
		return "", err
	}
	v, err = materialize(ctx, v)
	if err != nil {
		return "", err
	}
	if str, ok := v.(string); ok {
		return str, nil
	}
	return fmt.Sprintf("%v", v), nil
}

func runID(ctx context.Context) string {
	id, _ := trace.CurrentRunID(ctx)
	return id
}

func asMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// materialize drains any streaming value so downstream consumers that
// need a concrete value (tools, prompts, transforms) get one. Streams of
// text chunks collapse to the joined string; anything else becomes the
// buffered slice.
func materialize(ctx context.Context, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case stream.Stream:
		items, err := stream.Drain(ctx, val)
		if err != nil {
			return nil, err
		}
		return joinChunks(items), nil
	case map[string]interface{}:
		return materializeMap(ctx, val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			m, err := materialize(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	default:
		return v, nil
	}
}

func materializeMap(ctx context.Context, m map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		mv, err := materialize(ctx, v)
		if err != nil {
			return nil, err
		}
		out[k] = mv
	}
	return out, nil
}

func joinChunks(items []interface{}) interface{} {
	var b strings.Builder
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return items
		}
		b.WriteString(s)
	}
	return b.String()
}

// chunkStream adapts a provider chunk channel to the stream interface
// consumed by the trace layer. A chunk carrying an error terminates the
// stream with that error.
type chunkStream struct {
	ch <-chan llm.StreamChunk
}

func (s *chunkStream) Next(ctx context.Context) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		return chunk.Content, nil
	}
}
