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
	"time"
)

// ScriptProvider replays scripted responses. It backs local runs and tests
// where no real model endpoint is available: completions echo the prompt
// and streams split the completion into word chunks, so streamed trace
// capture can be exercised deterministically.
type ScriptProvider struct {
	// Responses maps prompt to scripted response. Prompts with no entry
	// fall back to echoing the prompt.
	Responses map[string]string

	// ChunkDelay, when set, spaces out streamed chunks. Tests leave it
	// zero.
	ChunkDelay time.Duration
}

// Name implements Provider.
func (p *ScriptProvider) Name() string { return "script" }

func (p *ScriptProvider) respond(prompt string) string {
	if p.Responses != nil {
		if resp, ok := p.Responses[prompt]; ok {
			return resp
		}
	}
	return prompt
}

// Complete implements Provider.
func (p *ScriptProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &CompletionResponse{
		Content: p.respond(req.Prompt),
		Model:   "script",
		Created: time.Now(),
	}, nil
}

// Stream implements Provider. The scripted response is split on spaces and
// each word is sent as one chunk; the channel closes after the final chunk.
func (p *ScriptProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.Fields(p.respond(req.Prompt))
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for i, word := range words {
			if i > 0 {
				word = " " + word
			}
			if p.ChunkDelay > 0 {
				select {
				case <-time.After(p.ChunkDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- StreamChunk{Content: word}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
