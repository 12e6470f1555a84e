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
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/flowtrace/internal/log"
	"github.com/tombee/flowtrace/pkg/trace/stream"
)

// Recorder is the live execution context for one logical unit of work: the
// call stack being recorded, the completed root traces, and the gate
// tracking streamed outputs produced along the way.
//
// A Recorder is carried through context.Context (see StartRecording), one
// per logical execution unit, never as process-global state. Concurrent
// flows each derive their own context and never see each other's call
// stacks. Push, Pop, Start and End are synchronous and non-blocking; the
// only suspension point in this package is draining a stream.Proxy.
type Recorder struct {
	mu        sync.Mutex
	runID     string
	nodeName  string
	roots     []*Trace
	byID      map[string]*Trace
	currentID string
	active    bool

	gate   *stream.Gate
	logger *slog.Logger
}

// Option configures a Recorder at start time.
type Option func(*Recorder)

// WithLogger sets the logger used for operator-misuse warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

type recorderKeyType struct{}

var recorderKey = recorderKeyType{}

func fromContext(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey).(*Recorder)
	return r
}

// FromContext returns the active Recorder carried by ctx, or nil if none
// is bound (or the bound one has already ended).
func FromContext(ctx context.Context) *Recorder {
	r := fromContext(ctx)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	return r
}

// StartRecording binds a new Recorder for runID to the returned context.
// If ctx already carries an active Recorder, a warning is logged and ctx is
// returned unchanged: the original recording keeps running. nodeName
// optionally identifies the logical unit owning root traces.
func StartRecording(ctx context.Context, runID, nodeName string, opts ...Option) context.Context {
	if existing := FromContext(ctx); existing != nil {
		existing.logger.Warn("tracing already active, ignoring start",
			slog.String(log.RunIDKey, runID),
			slog.String("active_run_id", existing.RunID()))
		return ctx
	}

	r := &Recorder{
		runID:    runID,
		nodeName: nodeName,
		byID:     make(map[string]*Trace),
		active:   true,
		gate:     stream.NewGate(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	activeRecorders.Inc()
	return context.WithValue(ctx, recorderKey, r)
}

// CurrentRunID returns the run id bound to ctx's active Recorder, or false
// if no recording is active.
func CurrentRunID(ctx context.Context) (string, bool) {
	r := FromContext(ctx)
	if r == nil {
		return "", false
	}
	return r.RunID(), true
}

// EndRecording detaches ctx's Recorder and returns its completed root
// traces serialized to a generic structured form. If no recording is
// active, it returns an empty list. If runID is non-empty and does not
// match the active run, it returns an empty list and leaves the recording
// untouched, so one logical unit cannot accidentally terminate another's
// trace. A Recorder is never reused after EndRecording.
func EndRecording(ctx context.Context, runID string) []any {
	r := FromContext(ctx)
	if r == nil {
		return []any{}
	}
	return r.end(runID)
}

// Push records the start of a traced call: the trace becomes the new
// current node, appended to the current trace's children or, with no call
// in flight, to the root list stamped with the recorder's node name.
// A no-op if no recording is active on ctx.
func Push(ctx context.Context, t *Trace) {
	if r := FromContext(ctx); r != nil {
		r.push(t)
	}
}

// Pop records the end of the current traced call and restores its parent
// as current. Output is captured through the serialization normalizer; a
// stream.Stream output is instead wrapped in a stream.Proxy registered with
// the recorder's gate, and the proxy is returned for the caller to drain in
// place of the original stream. A non-nil callErr is captured as the
// trace's error; the error itself still propagates through the traced
// call's normal return path — the recorder only observes it.
//
// If no recording is active, output is returned unchanged. Tracing never
// fails the traced call.
func Pop(ctx context.Context, output any, callErr error) any {
	r := FromContext(ctx)
	if r == nil {
		return output
	}
	return r.pop(output, callErr)
}

// RunID returns the recorder's bound run id.
func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Gate returns the teardown gate tracking streams produced during this
// recording. Resource-owning collaborators route their release through it.
func (r *Recorder) Gate() *stream.Gate {
	return r.gate
}

// Roots returns the completed root traces recorded so far.
func (r *Recorder) Roots() []*Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Trace, len(r.roots))
	copy(out, r.roots)
	return out
}

func (r *Recorder) currentLocked() *Trace {
	if r.currentID == "" {
		return nil
	}
	return r.byID[r.currentID]
}

func (r *Recorder) push(t *Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Inputs != nil {
		t.Inputs = ToSerializable(t.Inputs).(map[string]any)
	}
	if t.StartTime == 0 {
		t.StartTime = Timestamp(time.Now())
	}
	t.Children = []*Trace{}

	if parent := r.currentLocked(); parent != nil {
		parent.Children = append(parent.Children, t)
		t.ParentID = parent.ID
	} else {
		t.NodeName = r.nodeName
		r.roots = append(r.roots, t)
	}
	r.currentID = t.ID
	r.byID[t.ID] = t
	tracesPushed.Inc()
}

func (r *Recorder) pop(output any, callErr error) any {
	r.mu.Lock()

	last := r.currentLocked()
	if last == nil {
		r.mu.Unlock()
		r.logger.Warn("tried to pop trace but no call is in flight",
			slog.String(log.RunIDKey, r.runID))
		return output
	}

	var proxy *stream.Proxy
	if s, ok := output.(stream.Stream); ok {
		var alreadyProxied bool
		if proxy, alreadyProxied = s.(*stream.Proxy); !alreadyProxied {
			proxy = stream.NewProxy(s)
		}
		// The live proxy stands in for the output until exhaustion
		// rewrites it to the buffered sequence.
		last.Output = proxy
		output = proxy
	} else if output != nil {
		last.Output = ToSerializable(output)
	}

	if callErr != nil {
		last.Error = formatError(callErr)
	}
	last.EndTime = Timestamp(time.Now())
	r.currentID = last.ParentID
	tracesPopped.Inc()
	captured := last
	r.mu.Unlock()

	if proxy != nil {
		// Registered outside the lock: an already-done proxy fires its
		// exhaustion callback inline.
		r.gate.Register(proxy)
		streamsOpen.Inc()
		proxy.OnExhausted(func(items []any) {
			streamsOpen.Dec()
			r.mu.Lock()
			captured.Output = items
			r.mu.Unlock()
		})
	}

	return output
}

func (r *Recorder) end(runID string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return []any{}
	}
	if runID != "" && runID != r.runID {
		return []any{}
	}
	r.active = false
	activeRecorders.Dec()
	return SerializeTraces(r.roots)
}
