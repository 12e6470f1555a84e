// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package run

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tombee/flowtrace/internal/storage"
	"github.com/tombee/flowtrace/pkg/flow"
	"github.com/tombee/flowtrace/pkg/llm"
	"github.com/tombee/flowtrace/pkg/trace"
	"github.com/tombee/flowtrace/pkg/trace/stream"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		inputs    []string
		dbPath    string
		output    string
		responses []string
	)

	cmd := &cobra.Command{
		Use:   "run <flow.yaml>",
		Short: "Execute a flow and record its trace",
		Long: `Run executes a flow definition, printing streamed model output as it
arrives and the recorded trace tree when the run completes.

Inputs are passed as repeated --input key=value flags. Values parse as
JSON where possible, so --input count=3 is a number and --input topic=cats
a string.

Model-backed nodes use the scripted provider: --response prompt=reply
entries script its answers, and unscripted prompts echo back.

Output formats:
  --output pretty  Indented call tree with timings (default)
  --output json    Full serialized trace tree`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlow(cmd, args[0], inputs, responses, dbPath, output)
		},
	}

	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "Flow input in key=value format")
	cmd.Flags().StringSliceVar(&responses, "response", nil, "Scripted model response in prompt=reply format")
	cmd.Flags().StringVar(&dbPath, "db", "", "Persist the run to this SQLite database")
	cmd.Flags().StringVarP(&output, "output", "o", "pretty", "Trace output format (json, pretty)")

	return cmd
}

func runFlow(cmd *cobra.Command, path string, inputFlags, responseFlags []string, dbPath, output string) error {
	if output != "json" && output != "pretty" {
		return fmt.Errorf("unknown output format %q (expected json or pretty)", output)
	}

	def, err := flow.Load(path)
	if err != nil {
		return err
	}

	inputs, err := parsePairs(inputFlags, "input")
	if err != nil {
		return err
	}
	scripted, err := parseStringPairs(responseFlags, "response")
	if err != nil {
		return err
	}

	provider := &llm.ScriptProvider{Responses: scripted}
	runner := flow.NewRunner(builtinTools(), provider)

	runID := uuid.NewString()
	ctx := trace.StartRecording(cmd.Context(), runID, def.Name)

	outputs, runErr := runner.Run(ctx, def, inputs)
	if runErr == nil {
		outputs, runErr = drainOutputs(ctx, cmd.OutOrStdout(), outputs)
	}

	traces := trace.EndRecording(ctx, runID)

	if runErr == nil {
		printOutputs(cmd.OutOrStdout(), outputs)
	}
	if err := printTraces(cmd.OutOrStdout(), traces, output); err != nil {
		return err
	}

	if dbPath != "" {
		if err := persistRun(cmd.Context(), dbPath, runID, def.Name, traces, runErr); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s saved to %s\n", runID, dbPath)
	}

	return runErr
}

// parsePairs parses key=value flags, decoding values as JSON when they
// parse, so numbers and booleans keep their types.
func parsePairs(pairs []string, flagName string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --%s %q (expected key=value)", flagName, pair)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			out[key] = decoded
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func parseStringPairs(pairs []string, flagName string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --%s %q (expected key=value)", flagName, pair)
		}
		out[key] = value
	}
	return out, nil
}

// drainOutputs consumes any still-streaming flow output, printing chunks
// as they arrive, and replaces it with the joined text. Draining here is
// what finalizes the owning trace's output before the tree is printed.
func drainOutputs(ctx context.Context, w io.Writer, outputs map[string]interface{}) (map[string]interface{}, error) {
	for _, name := range sortedKeys(outputs) {
		proxy, ok := outputs[name].(*stream.Proxy)
		if !ok {
			continue
		}
		var b strings.Builder
		for {
			item, err := proxy.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return outputs, err
			}
			fmt.Fprintf(w, "%v", item)
			fmt.Fprintf(&b, "%v", item)
		}
		fmt.Fprintln(w)
		outputs[name] = b.String()
	}
	return outputs, nil
}

func printOutputs(w io.Writer, outputs map[string]interface{}) {
	for _, name := range sortedKeys(outputs) {
		fmt.Fprintf(w, "%s: %v\n", name, outputs[name])
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printTraces(w io.Writer, traces []any, format string) error {
	if format == "json" {
		data, err := json.MarshalIndent(traces, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode traces: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintln(w, "trace:")
	for _, t := range traces {
		printTraceNode(w, t, 1)
	}
	return nil
}

// printTraceNode renders one serialized trace and its children, indented
// by depth.
func printTraceNode(w io.Writer, node any, depth int) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	indent := strings.Repeat("  ", depth)

	name, _ := m["name"].(string)
	typ, _ := m["type"].(string)
	start, _ := m["start_time"].(float64)
	end, _ := m["end_time"].(float64)
	duration := time.Duration((end - start) * float64(time.Second))

	status := ""
	if errInfo, ok := m["error"].(map[string]any); ok {
		status = fmt.Sprintf(" error=%v", errInfo["message"])
	}
	fmt.Fprintf(w, "%s%s [%s] %s%s\n", indent, name, typ, duration.Round(time.Millisecond), status)

	if children, ok := m["children"].([]any); ok {
		for _, child := range children {
			printTraceNode(w, child, depth+1)
		}
	}
}

func persistRun(ctx context.Context, dbPath, runID, flowName string, traces []any, runErr error) error {
	store, err := storage.New(storage.Config{Path: dbPath})
	if err != nil {
		return err
	}
	defer store.Close()

	record := &storage.RunRecord{
		RunID:  runID,
		Flow:   flowName,
		Status: storage.RunStatusCompleted,
		Traces: traces,
	}
	if runErr != nil {
		record.Status = storage.RunStatusFailed
		record.Error = runErr.Error()
	}
	return store.SaveRun(ctx, record)
}
