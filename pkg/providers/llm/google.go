package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// GoogleProvider implements orchestrator.LLMProvider over the Gemini
// Developer API via the genai SDK, using GenerateContentStream for token
// deltas. Unlike OpenAI's wire format, genai surfaces a function call as
// one complete part rather than incremental argument fragments, so each
// FunctionCall part is emitted as a single already-complete ToolCall.
type GoogleProvider struct {
	client *genai.Client
	model  string
}

func NewGoogle(ctx context.Context, apiKey, model string) (*GoogleProvider, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleProvider{client: client, model: model}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) StreamComplete(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSchema) (<-chan orchestrator.LLMChunk, error) {
	contents, sysInstruction := convertGoogleMessages(messages)

	config := &genai.GenerateContentConfig{}
	if sysInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(sysInstruction, genai.RoleUser)
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertGoogleTools(tools)}}
	}

	out := make(chan orchestrator.LLMChunk, 32)
	go func() {
		defer close(out)

		idx := 0
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
			if err != nil {
				select {
				case out <- orchestrator.LLMChunk{Err: fmt.Errorf("google: stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}

			c := orchestrator.LLMChunk{Content: resp.Text()}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.FunctionCall == nil {
						continue
					}
					args, _ := marshalGoogleArgs(part.FunctionCall.Args)
					c.ToolCalls = append(c.ToolCalls, orchestrator.ToolCall{
						Index:     idx,
						Name:      part.FunctionCall.Name,
						Arguments: args,
					})
					idx++
				}
				if cand.FinishReason != "" {
					c.FinishReason = string(cand.FinishReason)
				}
			}

			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func convertGoogleMessages(messages []orchestrator.Message) ([]*genai.Content, string) {
	var sysInstruction string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case orchestrator.RoleSystem:
			sysInstruction = m.Content
		case orchestrator.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case orchestrator.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case orchestrator.RoleTool:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, sysInstruction
}

func convertGoogleTools(tools []orchestrator.ToolSchema) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertGoogleSchema(t.Parameters),
		})
	}
	return decls
}

func convertGoogleSchema(params map[string]interface{}) *genai.Schema {
	if params == nil {
		return nil
	}
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	props, _ := params["properties"].(map[string]interface{})
	for name, raw := range props {
		def, _ := raw.(map[string]interface{})
		propSchema := &genai.Schema{Type: genai.TypeString}
		if desc, ok := def["description"].(string); ok {
			propSchema.Description = desc
		}
		schema.Properties[name] = propSchema
	}
	if required, ok := params["required"].([]interface{}); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func marshalGoogleArgs(args map[string]interface{}) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}", err
	}
	return string(b), nil
}
