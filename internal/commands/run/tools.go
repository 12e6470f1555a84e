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

package run

import (
	"context"
	"fmt"
	"strings"

	"github.com/tombee/flowtrace/pkg/flow"
)

// builtinTools registers the tools available to flows run from the CLI.
func builtinTools() *flow.ToolRegistry {
	registry := flow.NewToolRegistry()

	// Registration of fixed names cannot collide.
	_ = registry.Register(flow.NewTool("echo", "returns its inputs unchanged",
		func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
			return inputs, nil
		}))

	_ = registry.Register(flow.NewTool("upper", "uppercases the 'text' input",
		func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
			text, ok := inputs["text"].(string)
			if !ok {
				return nil, fmt.Errorf("upper requires a string 'text' input, got %T", inputs["text"])
			}
			return map[string]interface{}{"text": strings.ToUpper(text)}, nil
		}))

	_ = registry.Register(flow.NewTool("concat", "joins the 'parts' input with 'sep'",
		func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
			parts, ok := inputs["parts"].([]interface{})
			if !ok {
				return nil, fmt.Errorf("concat requires a list 'parts' input, got %T", inputs["parts"])
			}
			sep, _ := inputs["sep"].(string)
			strs := make([]string, len(parts))
			for i, p := range parts {
				strs[i] = fmt.Sprintf("%v", p)
			}
			return map[string]interface{}{"text": strings.Join(strs, sep)}, nil
		}))

	return registry
}
