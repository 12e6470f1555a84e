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

package stream

import (
	"context"
	"io"
	"sync"
)

// Proxy wraps a single-pass Stream and buffers every item it forwards, so
// the consumed prefix can be captured into a trace without breaking the
// consumer's one-pass read.
//
// A Proxy is itself a Stream and is the only handle consumers receive; it is
// shared by reference, never duplicated. A consumer that wants to both
// display items as they arrive and forward them elsewhere must do so over
// this same single pass.
//
// A Proxy that is never fully drained stays open indefinitely. There is no
// automatic timeout: Gate.CancelAll is the explicit path for abandoning open
// proxies on shutdown.
type Proxy struct {
	src Stream

	// nextMu serializes consumers so at most one upstream pull is in
	// flight. It is distinct from mu so state reads (Items, Done) never
	// block behind a suspended upstream pull.
	nextMu sync.Mutex

	mu        sync.Mutex
	items     []any
	done      bool
	exhausted []func(items []any)
}

// NewProxy wraps src without consuming anything from it.
func NewProxy(src Stream) *Proxy {
	return &Proxy{src: src}
}

// Next pulls exactly one item from the underlying stream, appends it to the
// buffer, and yields it onward. Once the underlying stream signals io.EOF
// the proxy marks itself done, fires exhaustion callbacks, and every further
// call returns io.EOF.
func (p *Proxy) Next(ctx context.Context) (any, error) {
	p.nextMu.Lock()
	defer p.nextMu.Unlock()

	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil, io.EOF
	}
	p.mu.Unlock()

	item, err := p.src.Next(ctx)
	if err == io.EOF {
		p.finish()
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.done {
		// Cancelled while the pull was in flight; the item is dropped
		// and the buffer stays at the prefix captured at cancel time.
		p.mu.Unlock()
		return nil, io.EOF
	}
	p.items = append(p.items, item)
	p.mu.Unlock()

	return item, nil
}

// Items returns a snapshot of the consumed prefix, in yield order.
func (p *Proxy) Items() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]any, len(p.items))
	copy(out, p.items)
	return out
}

// Done reports whether the proxy has been exhausted or cancelled.
func (p *Proxy) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// OnExhausted registers fn to run once, with the final buffer, when the
// proxy reaches its done state. If the proxy is already done, fn runs
// immediately.
func (p *Proxy) OnExhausted(fn func(items []any)) {
	p.mu.Lock()
	if p.done {
		items := make([]any, len(p.items))
		copy(items, p.items)
		p.mu.Unlock()
		fn(items)
		return
	}
	p.exhausted = append(p.exhausted, fn)
	p.mu.Unlock()
}

// Cancel marks the proxy done with whatever prefix has been consumed so
// far. Used by the gate's forced-release path for streams abandoned by
// their consumer; a graceful drain never calls it.
func (p *Proxy) Cancel() {
	p.finish()
}

func (p *Proxy) finish() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	callbacks := p.exhausted
	p.exhausted = nil
	items := make([]any, len(p.items))
	copy(items, p.items)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(items)
	}
}
