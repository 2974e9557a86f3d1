package orchestrator

import (
	"context"
	"fmt"
	"sort"
)

// LLMClient implements the generate(text) contract of §4.5: it owns the
// ConversationHistory, drives the provider's streaming round loop, executes
// any accumulated tool calls, and re-enters the loop until the model
// produces a final textual answer with no further tool calls.
type LLMClient struct {
	provider LLMProvider
	history  *ConversationHistory
	tools    *ToolRegistry
	logger   Logger
}

func NewLLMClient(provider LLMProvider, history *ConversationHistory, tools *ToolRegistry, logger Logger) *LLMClient {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &LLMClient{provider: provider, history: history, tools: tools, logger: logger}
}

// Fragment is one element of generate's lazy output sequence: either a
// content fragment to forward to the Turn Controller's SentenceBuffer, or a
// terminal error (the final apology fragment of §4.5's failure clause).
type Fragment struct {
	Content string
	Done    bool
	Err     error
}

// Generate implements §4.5: appends the user turn, then loops issuing
// streaming completions and executing tool calls until the model yields a
// final answer with no tool calls, or an unrecoverable provider error
// occurs.
func (c *LLMClient) Generate(ctx context.Context, text string) <-chan Fragment {
	out := make(chan Fragment, 16)
	go func() {
		defer close(out)
		c.history.AppendUser(text)

		for round := 0; ; round++ {
			select {
			case <-ctx.Done():
				return
			default:
			}

			messages := c.history.Snapshot()
			stream, err := c.provider.StreamComplete(ctx, messages, c.tools.Schemas())
			if err != nil {
				c.logger.Error("llm stream start failed", "error", err)
				emit(ctx, out, Fragment{Content: "I'm sorry, I ran into a problem.", Err: Classify(KindProviderError, err)})
				return
			}

			var fullContent string
			toolCallsByIndex := map[int]*ToolCall{}

			for chunk := range stream {
				select {
				case <-ctx.Done():
					return
				default:
				}

				if chunk.Err != nil {
					c.logger.Error("llm stream error", "error", chunk.Err)
					emit(ctx, out, Fragment{Content: "I'm sorry, I ran into a problem.", Err: Classify(KindProviderError, chunk.Err)})
					return
				}

				if chunk.Content != "" {
					fullContent += chunk.Content
					if !emit(ctx, out, Fragment{Content: chunk.Content}) {
						return
					}
				}

				for _, tc := range chunk.ToolCalls {
					existing, ok := toolCallsByIndex[tc.Index]
					if !ok {
						cp := tc
						toolCallsByIndex[tc.Index] = &cp
						continue
					}
					if tc.ID != "" {
						existing.ID = tc.ID
					}
					if tc.Name != "" {
						existing.Name = tc.Name
					}
					existing.Arguments += tc.Arguments
				}
			}

			if len(toolCallsByIndex) == 0 {
				if fullContent != "" {
					c.history.AppendAssistant(fullContent, nil)
				}
				emit(ctx, out, Fragment{Done: true})
				return
			}

			indices := make([]int, 0, len(toolCallsByIndex))
			for i := range toolCallsByIndex {
				indices = append(indices, i)
			}
			sort.Ints(indices)
			calls := make([]ToolCall, 0, len(indices))
			for _, i := range indices {
				tc := toolCallsByIndex[i]
				if tc.ID == "" {
					tc.ID = fmt.Sprintf("call_%d", i)
				}
				calls = append(calls, *tc)
			}
			c.history.AppendAssistant(fullContent, calls)

			toolMessages := c.tools.Execute(ctx, calls)
			for _, m := range toolMessages {
				c.history.AppendTool(m.ToolCallID, m.Content)
			}
			// re-enter the round loop so the model can consume tool outputs
		}
	}()
	return out
}

func emit(ctx context.Context, out chan<- Fragment, f Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
