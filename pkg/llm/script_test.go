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

package llm

import (
	"context"
	"strings"
	"testing"
)

func TestScriptProvider_Complete(t *testing.T) {
	p := &ScriptProvider{Responses: map[string]string{"hi": "hello there"}}

	resp, err := p.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("Content = %q, want scripted response", resp.Content)
	}

	// Unscripted prompts echo.
	resp, err = p.Complete(context.Background(), CompletionRequest{Prompt: "unknown"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "unknown" {
		t.Errorf("Content = %q, want echo", resp.Content)
	}
}

func TestScriptProvider_Stream(t *testing.T) {
	p := &ScriptProvider{Responses: map[string]string{"tell": "a b c"}}

	ch, err := p.Stream(context.Background(), CompletionRequest{Prompt: "tell"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var sb strings.Builder
	count := 0
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("chunk error: %v", chunk.Error)
		}
		sb.WriteString(chunk.Content)
		count++
	}

	if count != 3 {
		t.Errorf("chunk count = %d, want 3", count)
	}
	if sb.String() != "a b c" {
		t.Errorf("reassembled = %q, want 'a b c'", sb.String())
	}
}

func TestScriptProvider_StreamCancelled(t *testing.T) {
	p := &ScriptProvider{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Stream(ctx, CompletionRequest{Prompt: "x"}); err == nil {
		t.Error("expected error from cancelled context")
	}
}
