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
	"sync"

	"github.com/tombee/flowtrace/pkg/errors"
)

// Gate tracks the proxies created during one recording session and gates
// release of the backing resource (e.g., an out-of-process execution
// service) on all of them reaching their done state.
//
// The gate is the one structure here mutated from more than one goroutine:
// the unit that produced a stream and the unit that eventually drains it.
// All registry mutations happen under a single mutex.
//
// Release policy: ReleaseWhenReady waits only as long as the caller's
// context allows and fails with a retryable *errors.StreamsOpenError
// otherwise; TryRelease rejects immediately. Abandoned proxies never time
// out on their own — CancelAll is the explicit forced path for shutdown
// under error.
type Gate struct {
	mu      sync.Mutex
	open    map[*Proxy]struct{}
	emptyCh chan struct{}
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{open: make(map[*Proxy]struct{})}
}

// Register adds a proxy to the outstanding set. Called exactly once per
// proxy, at creation time.
func (g *Gate) Register(p *Proxy) {
	g.mu.Lock()
	g.open[p] = struct{}{}
	g.mu.Unlock()

	p.OnExhausted(func([]any) {
		g.markExhausted(p)
	})
}

func (g *Gate) markExhausted(p *Proxy) {
	g.mu.Lock()
	delete(g.open, p)
	if len(g.open) == 0 && g.emptyCh != nil {
		close(g.emptyCh)
		g.emptyCh = nil
	}
	g.mu.Unlock()
}

// AllExhausted reports whether every registered proxy has reached its done
// state.
func (g *Gate) AllExhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.open) == 0
}

// Open returns the number of registered proxies not yet exhausted.
func (g *Gate) Open() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.open)
}

// TryRelease runs release only if every registered proxy is exhausted.
// Otherwise it rejects with a retryable *errors.StreamsOpenError and the
// resource is left untouched.
func (g *Gate) TryRelease(resource string, release func() error) error {
	g.mu.Lock()
	if n := len(g.open); n > 0 {
		g.mu.Unlock()
		return &errors.StreamsOpenError{Open: n, Resource: resource}
	}
	g.mu.Unlock()
	return release()
}

// ReleaseWhenReady waits for every registered proxy to be exhausted, then
// runs release. The wait is bounded by ctx; on expiry the resource is left
// untouched and a retryable *errors.StreamsOpenError is returned.
func (g *Gate) ReleaseWhenReady(ctx context.Context, resource string, release func() error) error {
	for {
		g.mu.Lock()
		if len(g.open) == 0 {
			g.mu.Unlock()
			return release()
		}
		if g.emptyCh == nil {
			g.emptyCh = make(chan struct{})
		}
		ch := g.emptyCh
		n := len(g.open)
		g.mu.Unlock()

		select {
		case <-ch:
			// Set drained; loop to re-check under the lock.
		case <-ctx.Done():
			return &errors.StreamsOpenError{Open: n, Resource: resource}
		}
	}
}

// CancelAll force-completes every outstanding proxy with its partial
// buffer. This is the shutdown-under-error path; a normal teardown must use
// ReleaseWhenReady instead so consumers finish their single pass.
func (g *Gate) CancelAll() {
	g.mu.Lock()
	proxies := make([]*Proxy, 0, len(g.open))
	for p := range g.open {
		proxies = append(proxies, p)
	}
	g.mu.Unlock()

	// Cancel outside the lock; each cancellation re-enters markExhausted.
	for _, p := range proxies {
		p.Cancel()
	}
}
