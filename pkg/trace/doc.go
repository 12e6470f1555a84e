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

/*
Package trace records a causally correct call tree concurrently with flow
execution: what ran, in what order, with what inputs and outputs, nested how
deeply, and whether anything streamed partial results.

# Recording

A caller starts a recorder bound to a run id before executing a unit of
work, wraps each nested operation in Push/Pop, and reads back the finished
tree with EndRecording:

	ctx = trace.StartRecording(ctx, runID, "joke_node")
	trace.Push(ctx, trace.New(trace.TypeTool, "", "fetch", inputs))
	out, err := fetch(ctx, inputs)
	out, _ = trace.Pop(ctx, out, err).(map[string]any)
	...
	tree := trace.EndRecording(ctx, runID)

The recorder travels in the context, one per logical execution unit.
Recording never fails the traced call: operator misuse and serialization
failures degrade to a logged warning and a safe default.

# Streamed outputs

When a popped output is a stream.Stream, Pop returns a stream.Proxy in its
place. The proxy stays lazy for the original consumer while buffering every
item for the trace; on exhaustion the trace output becomes the full buffered
sequence. The recorder's Gate defers release of backing resources until all
proxies from the recording are exhausted.
*/
package trace
