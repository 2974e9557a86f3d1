// Package llm collects LLMProvider implementations.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// OpenAIProvider implements orchestrator.LLMProvider over the real OpenAI
// chat-completions streaming API. option.WithBaseURL lets the same client
// target any OpenAI-compatible endpoint (e.g. Groq's, see NewGroq below).
type OpenAIProvider struct {
	client oai.Client
	model  string
	name   string
}

func NewOpenAI(apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o"
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{client: oai.NewClient(reqOpts...), model: model, name: "openai"}
}

// NewGroq builds an OpenAIProvider pointed at Groq's OpenAI-compatible
// endpoint, reusing the same SDK client instead of a bespoke HTTP shim.
func NewGroq(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	p := NewOpenAI(apiKey, model, option.WithBaseURL("https://api.groq.com/openai/v1"),
		option.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}))
	p.name = "groq"
	return p
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) StreamComplete(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSchema) (<-chan orchestrator.LLMChunk, error) {
	params, err := p.buildParams(messages, tools)
	if err != nil {
		return nil, fmt.Errorf("%s: build params: %w", p.name, err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%s: start stream: %w", p.name, err)
	}

	out := make(chan orchestrator.LLMChunk, 32)
	go func() {
		defer close(out)
		defer stream.Close()

		toolCallAccum := map[int]*orchestrator.ToolCall{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			c := orchestrator.LLMChunk{Content: delta.Content, FinishReason: choice.FinishReason}

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				existing, ok := toolCallAccum[idx]
				if !ok {
					existing = &orchestrator.ToolCall{Index: idx}
					toolCallAccum[idx] = existing
				}
				if tc.ID != "" {
					existing.ID = tc.ID
				}
				if tc.Function.Name != "" {
					existing.Name = tc.Function.Name
				}
				existing.Arguments += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				for i := 0; i < len(toolCallAccum); i++ {
					if tc, ok := toolCallAccum[i]; ok {
						c.ToolCalls = append(c.ToolCalls, *tc)
					}
				}
			}

			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case out <- orchestrator.LLMChunk{Err: fmt.Errorf("%s: stream: %w", p.name, err)}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func (p *OpenAIProvider) buildParams(messages []orchestrator.Message, tools []orchestrator.ToolSchema) (oai.ChatCompletionNewParams, error) {
	var msgs []oai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}

	for _, td := range tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}

	return params, nil
}

func convertMessage(m orchestrator.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case orchestrator.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case orchestrator.RoleUser:
		return oai.UserMessage(m.Content), nil
	case orchestrator.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case orchestrator.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}
