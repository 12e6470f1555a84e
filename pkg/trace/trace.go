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
	"fmt"
	"strings"
	"time"
)

// Type categorizes what kind of operation a trace records.
type Type string

const (
	// TypeFunction is a plain traced function call.
	TypeFunction Type = "Function"
	// TypeTool is a tool invocation within a flow node.
	TypeTool Type = "Tool"
	// TypeLLM is a large language model call. LLM traces qualify their
	// name with the originating module.
	TypeLLM Type = "LLM"
	// TypeEmbedding is an embedding model call, named like LLM traces.
	TypeEmbedding Type = "Embedding"
	// TypeFlow is the root call of a whole flow run.
	TypeFlow Type = "Flow"
)

// ErrorInfo captures a traced call's failure as message plus error type.
type ErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Trace is one node of the recorded call tree.
//
// Inputs are captured at push time, output/error/end time at pop time.
// Children are appended in call order and are frozen once the trace is
// popped; the one later mutation allowed is rewriting a streamed Output
// from its live proxy to the fully buffered sequence on exhaustion.
type Trace struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      Type           `json:"type"`
	Inputs    map[string]any `json:"inputs"`
	Output    any            `json:"output,omitempty"`
	Error     *ErrorInfo     `json:"error,omitempty"`
	StartTime float64        `json:"start_time"`
	EndTime   float64        `json:"end_time"`

	// ParentID is set for every non-root trace.
	ParentID string `json:"parent_id,omitempty"`

	// NodeName identifies the logical unit owning a root trace; empty on
	// child traces.
	NodeName string `json:"node_name,omitempty"`

	Children []*Trace `json:"children"`
}

// New creates a trace for a named operation with its inputs captured and
// start time stamped. LLM and Embedding traces qualify the name with the
// originating module.
func New(traceType Type, module, name string, inputs map[string]any) *Trace {
	if module != "" && (traceType == TypeLLM || traceType == TypeEmbedding) {
		name = module + "." + name
	}
	return &Trace{
		Name:      name,
		Type:      traceType,
		Inputs:    inputs,
		StartTime: Timestamp(time.Now()),
	}
}

// Timestamp converts a time to the fractional-second UTC form traces carry.
func Timestamp(t time.Time) float64 {
	return float64(t.UTC().UnixNano()) / float64(time.Second)
}

// formatError converts a Go error into the {message, type} form captured on
// failed traces. The type is the error's concrete Go type without the
// pointer marker.
func formatError(err error) *ErrorInfo {
	return &ErrorInfo{
		Message: err.Error(),
		Type:    strings.TrimPrefix(fmt.Sprintf("%T", err), "*"),
	}
}
