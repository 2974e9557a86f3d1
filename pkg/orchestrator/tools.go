package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// ToolFunc is a registered tool implementation: parsed arguments in, any
// JSON-serializable return value out. Errors are reported back to the model
// as the tool message content, never surfaced to the end user directly
// (§4.5 step f, §7 ToolError).
type ToolFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ToolRegistry looks up tool implementations by name for the LLM Client's
// round loop (§4.5). Grounded on the corpus's generic tool-call-round
// pattern (index-accumulated deltas, execute-by-name, re-enter the loop).
type ToolRegistry struct {
	schemas map[string]ToolSchema
	impls   map[string]ToolFunc
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		schemas: make(map[string]ToolSchema),
		impls:   make(map[string]ToolFunc),
	}
}

// Register adds a tool's schema (advertised to the LLM) and implementation.
func (r *ToolRegistry) Register(schema ToolSchema, fn ToolFunc) {
	r.schemas[schema.Name] = schema
	r.impls[schema.Name] = fn
}

// Schemas returns the registered tool schemas in a stable (name-sorted)
// order, suitable for passing to an LLMProvider.
func (r *ToolRegistry) Schemas() []ToolSchema {
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]ToolSchema, 0, len(names))
	for _, n := range names {
		out = append(out, r.schemas[n])
	}
	return out
}

// Execute runs every accumulated tool call in index order (§4.5 step f) and
// returns the resulting tool messages to append to history, each carrying
// the call's tool_call_id (synthesizing one if the provider omitted it).
func (r *ToolRegistry) Execute(ctx context.Context, calls []ToolCall) []Message {
	sorted := make([]ToolCall, len(calls))
	copy(sorted, calls)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	out := make([]Message, 0, len(sorted))
	for i, call := range sorted {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}

		var args map[string]interface{}
		if call.Arguments == "" {
			args = map[string]interface{}{}
		} else if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			out = append(out, Message{
				Role:       RoleTool,
				ToolCallID: id,
				Content:    fmt.Sprintf("error: invalid arguments for tool %q: %v", call.Name, err),
			})
			continue
		}

		impl, ok := r.impls[call.Name]
		if !ok {
			out = append(out, Message{
				Role:       RoleTool,
				ToolCallID: id,
				Content:    fmt.Sprintf("error: unknown tool %q", call.Name),
			})
			continue
		}

		result, err := impl(ctx, args)
		if err != nil {
			out = append(out, Message{
				Role:       RoleTool,
				ToolCallID: id,
				Content:    fmt.Sprintf("error: %v", err),
			})
			continue
		}

		serialized, err := json.Marshal(result)
		if err != nil {
			serialized = []byte(fmt.Sprintf("%v", result))
		}
		out = append(out, Message{
			Role:       RoleTool,
			ToolCallID: id,
			Content:    string(serialized),
		})
	}
	return out
}
