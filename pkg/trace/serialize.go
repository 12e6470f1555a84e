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

package trace

import (
	"encoding/json"
	"fmt"

	"github.com/tombee/flowtrace/pkg/trace/stream"
)

// serializeResult is the outcome of attempting a structured serialization:
// either the value survives as-is, or it degrades to its textual form.
type serializeResult struct {
	value    any
	fallback bool
}

// trySerialize checks that v encodes to JSON. On failure it degrades to
// fmt's rendering of the value instead of reporting an error.
func trySerialize(v any) serializeResult {
	if _, err := json.Marshal(v); err != nil {
		return serializeResult{value: fmt.Sprintf("%v", v), fallback: true}
	}
	return serializeResult{value: v}
}

// ToSerializable normalizes a value for capture into a trace. It never
// fails: a trace must be producible even for unserializable payloads.
//
//   - String-keyed maps are recursed key by key.
//   - A streaming proxy passes through unchanged; it is never
//     force-evaluated here. Its buffered items are substituted at
//     serialization time (see serializeValue).
//   - Anything else is kept if it encodes to JSON, otherwise replaced by
//     its textual representation. Applying the function twice is
//     idempotent: the fallback string trivially encodes.
func ToSerializable(v any) any {
	switch val := v.(type) {
	case *stream.Proxy:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ToSerializable(item)
		}
		return out
	default:
		res := trySerialize(v)
		if res.fallback {
			serializeFallbacks.Inc()
		}
		return res.value
	}
}

// serializeValue resolves a captured value into the generic structured form
// returned by EndRecording. Streaming proxies become their buffered items:
// the full sequence when done, the consumed prefix otherwise.
func serializeValue(v any) any {
	switch val := v.(type) {
	case *stream.Proxy:
		return val.Items()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = serializeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = serializeValue(item)
		}
		return out
	default:
		return v
	}
}

// serializeTrace converts a trace node into a plain mapping/sequence/scalar
// tree with no live handles, safe to encode to any text interchange format.
func serializeTrace(t *Trace) map[string]any {
	node := map[string]any{
		"id":         t.ID,
		"name":       t.Name,
		"type":       string(t.Type),
		"inputs":     serializeValue(t.Inputs),
		"start_time": t.StartTime,
		"end_time":   t.EndTime,
	}
	if t.Output != nil {
		node["output"] = serializeValue(t.Output)
	}
	if t.Error != nil {
		node["error"] = map[string]any{
			"message": t.Error.Message,
			"type":    t.Error.Type,
		}
	}
	if t.ParentID != "" {
		node["parent_id"] = t.ParentID
	}
	if t.NodeName != "" {
		node["node_name"] = t.NodeName
	}
	children := make([]any, len(t.Children))
	for i, child := range t.Children {
		children[i] = serializeTrace(child)
	}
	node["children"] = children
	return node
}

// SerializeTraces converts a root-trace list into the generic structured
// form handed to persistence and display collaborators.
func SerializeTraces(roots []*Trace) []any {
	out := make([]any, len(roots))
	for i, t := range roots {
		out[i] = serializeTrace(t)
	}
	return out
}
