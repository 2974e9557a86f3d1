// Package tools holds the engine's built-in tool registrations: functions
// exposed to the LLM through the §4.5 tool-call round trip. get_current_time
// and get_current_date port original_source/backend/tools/time_tools.py's
// TIME_TOOLS_DEFINITIONS/AVAILABLE_TOOLS pair, a spec-named feature the
// distilled spec.md dropped; SPEC_FULL.md §8's scenario 1 names
// get_current_time.
package tools

import (
	"context"
	"time"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// RegisterTime adds get_current_time and get_current_date to registry.
func RegisterTime(registry *orchestrator.ToolRegistry) {
	registry.Register(orchestrator.ToolSchema{
		Name:        "get_current_time",
		Description: "Get the current time.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
			"required":   []string{},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return time.Now().Format("03:04 PM"), nil
	})

	registry.Register(orchestrator.ToolSchema{
		Name:        "get_current_date",
		Description: "Get the current date.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
			"required":   []string{},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return time.Now().Format("2006-01-02"), nil
	})
}
