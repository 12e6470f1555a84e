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

// Package stream provides single-pass lazy sequences and the lifecycle
// machinery that lets streamed outputs be captured into an execution trace
// while they are drained by their original consumer.
//
// A Stream is forward-only and consumed at most once. The trace recorder
// detects Stream-valued outputs, wraps them in a Proxy that buffers every
// item it forwards, and registers the Proxy with a Gate so that backing
// resources are never torn down while a stream is still mid-read.
package stream

import (
	"context"
	"io"
)

// Stream is a lazily-produced, single-pass sequence of items.
//
// Next returns the next item, or io.EOF once the sequence is exhausted.
// Iteration may suspend while waiting for the next upstream item (e.g.,
// network-bound token generation); the context bounds that wait. Any error
// other than io.EOF terminates the sequence.
type Stream interface {
	Next(ctx context.Context) (any, error)
}

// channelStream adapts a receive channel to the Stream interface.
// The channel closing signals exhaustion.
type channelStream[T any] struct {
	ch <-chan T
}

// FromChannel wraps a receive channel as a Stream. Producers that emit over
// channels (the usual shape for streamed model responses) close the channel
// to signal completion.
func FromChannel[T any](ch <-chan T) Stream {
	return &channelStream[T]{ch: ch}
}

func (s *channelStream[T]) Next(ctx context.Context) (any, error) {
	select {
	case item, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sliceStream yields a fixed set of items. Used for tests and replayed runs.
type sliceStream struct {
	items []any
	pos   int
}

// FromSlice wraps a slice as a single-pass Stream.
func FromSlice(items []any) Stream {
	return &sliceStream{items: items}
}

func (s *sliceStream) Next(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

// Drain reads the stream to exhaustion and returns every item in order.
func Drain(ctx context.Context, s Stream) ([]any, error) {
	var items []any
	for {
		item, err := s.Next(ctx)
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}
