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
	"reflect"
	"testing"
	"time"
)

func TestFromSlice(t *testing.T) {
	s := FromSlice([]any{"a", "b", "c"})

	items, err := Drain(context.Background(), s)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !reflect.DeepEqual(items, []any{"a", "b", "c"}) {
		t.Errorf("Drain() = %v, want [a b c]", items)
	}

	// Single-pass: a second read yields nothing further.
	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Errorf("Next() after exhaustion = %v, want io.EOF", err)
	}
}

func TestFromChannel(t *testing.T) {
	ch := make(chan string, 3)
	ch <- "x"
	ch <- "y"
	close(ch)

	s := FromChannel(ch)
	items, err := Drain(context.Background(), s)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !reflect.DeepEqual(items, []any{"x", "y"}) {
		t.Errorf("Drain() = %v, want [x y]", items)
	}
}

func TestFromChannel_ContextCancelled(t *testing.T) {
	ch := make(chan int) // never written, never closed
	s := FromChannel(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := s.Next(ctx); err != context.DeadlineExceeded {
		t.Errorf("Next() = %v, want context.DeadlineExceeded", err)
	}
}

func TestProxy_BufferEqualsConsumedPrefix(t *testing.T) {
	p := NewProxy(FromSlice([]any{"a", "b", "c"}))
	ctx := context.Background()

	item, err := p.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if item != "a" {
		t.Errorf("Next() = %v, want a", item)
	}

	if got := p.Items(); !reflect.DeepEqual(got, []any{"a"}) {
		t.Errorf("Items() after one read = %v, want [a]", got)
	}
	if p.Done() {
		t.Error("proxy should not be done after partial read")
	}
}

func TestProxy_ExhaustionFinalizesBuffer(t *testing.T) {
	p := NewProxy(FromSlice([]any{1, 2, 3}))

	var finalized []any
	p.OnExhausted(func(items []any) { finalized = items })

	items, err := Drain(context.Background(), p)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if !reflect.DeepEqual(items, []any{1, 2, 3}) {
		t.Errorf("Drain() = %v", items)
	}

	if !p.Done() {
		t.Error("proxy should be done after full drain")
	}
	if !reflect.DeepEqual(finalized, []any{1, 2, 3}) {
		t.Errorf("OnExhausted buffer = %v, want [1 2 3]", finalized)
	}
}

func TestProxy_OnExhaustedAfterDone(t *testing.T) {
	p := NewProxy(FromSlice([]any{"only"}))
	if _, err := Drain(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	called := false
	p.OnExhausted(func(items []any) {
		called = true
		if !reflect.DeepEqual(items, []any{"only"}) {
			t.Errorf("items = %v", items)
		}
	})
	if !called {
		t.Error("OnExhausted should fire immediately when already done")
	}
}

func TestProxy_Cancel(t *testing.T) {
	p := NewProxy(FromSlice([]any{"a", "b"}))
	ctx := context.Background()

	if _, err := p.Next(ctx); err != nil {
		t.Fatal(err)
	}

	var finalized []any
	p.OnExhausted(func(items []any) { finalized = items })

	p.Cancel()

	if !p.Done() {
		t.Error("cancelled proxy should be done")
	}
	if !reflect.DeepEqual(finalized, []any{"a"}) {
		t.Errorf("finalized = %v, want partial buffer [a]", finalized)
	}

	// Further reads yield nothing.
	if _, err := p.Next(ctx); err != io.EOF {
		t.Errorf("Next() after cancel = %v, want io.EOF", err)
	}

	// Cancel is idempotent.
	p.Cancel()
}

func TestProxy_SharedSinglePass(t *testing.T) {
	p := NewProxy(FromSlice([]any{"a", "b", "c", "d"}))
	ctx := context.Background()

	// Two consumers sharing the proxy by reference split one pass
	// between them; nothing is yielded twice.
	var first, second []any
	for i := 0; i < 2; i++ {
		item, err := p.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		first = append(first, item)
	}
	for {
		item, err := p.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		second = append(second, item)
	}

	if !reflect.DeepEqual(first, []any{"a", "b"}) {
		t.Errorf("first consumer = %v", first)
	}
	if !reflect.DeepEqual(second, []any{"c", "d"}) {
		t.Errorf("second consumer = %v", second)
	}
	if got := p.Items(); !reflect.DeepEqual(got, []any{"a", "b", "c", "d"}) {
		t.Errorf("Items() = %v", got)
	}
}
