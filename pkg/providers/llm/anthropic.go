package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

// AnthropicProvider is a hand-rolled Anthropic Messages API client: the
// corpus carries no working anthropic-sdk-go usage (only a transitive,
// unexercised dependency), so this is built directly against the
// documented SSE wire format, in the same content_block_start /
// content_block_delta / content_block_stop parsing style used elsewhere in
// the retrieved pack's Anthropic tool-calling client.
type AnthropicProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
}

func NewAnthropic(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicProvider{
		apiKey:    apiKey,
		baseURL:   "https://api.anthropic.com/v1/messages",
		model:     model,
		maxTokens: 1024,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []anthMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
	Tools     []anthTool    `json:"tools,omitempty"`
	Stream    bool          `json:"stream"`
}

type anthSSEEvent struct {
	Type         string `json:"type"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta,omitempty"`
}

// StreamComplete issues one streaming Messages API call and translates its
// SSE events into LLMChunks. Anthropic's tool_use input arrives as
// incremental partial_json deltas keyed to the content block's ordinal
// position, which this maps directly onto ToolCall.Index.
func (p *AnthropicProvider) StreamComplete(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.ToolSchema) (<-chan orchestrator.LLMChunk, error) {
	req := anthRequest{Model: p.model, MaxTokens: p.maxTokens, Stream: true}
	for _, m := range messages {
		switch m.Role {
		case orchestrator.RoleSystem:
			req.System = m.Content
		case orchestrator.RoleTool:
			req.Messages = append(req.Messages, anthMessage{Role: "user", Content: m.Content})
		default:
			req.Messages = append(req.Messages, anthMessage{Role: string(m.Role), Content: m.Content})
		}
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, string(b))
	}

	out := make(chan orchestrator.LLMChunk, 32)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		p.consumeStream(ctx, resp.Body, out)
	}()

	return out, nil
}

func (p *AnthropicProvider) consumeStream(ctx context.Context, body io.Reader, out chan<- orchestrator.LLMChunk) {
	var (
		eventType  string
		blockIndex = -1
		toolName   string
		toolID     string
		toolArgs   strings.Builder
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var ev anthSSEEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch eventType {
		case "content_block_start":
			blockIndex++
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				toolName = ev.ContentBlock.Name
				toolID = ev.ContentBlock.ID
				toolArgs.Reset()
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" && !emitAnthropic(ctx, out, orchestrator.LLMChunk{Content: ev.Delta.Text}) {
					return
				}
			case "input_json_delta":
				toolArgs.WriteString(ev.Delta.PartialJSON)
			}

		case "content_block_stop":
			if toolID != "" {
				chunk := orchestrator.LLMChunk{ToolCalls: []orchestrator.ToolCall{
					{Index: blockIndex, ID: toolID, Name: toolName, Arguments: toolArgs.String()},
				}}
				if !emitAnthropic(ctx, out, chunk) {
					return
				}
				toolName, toolID = "", ""
				toolArgs.Reset()
			}

		case "message_stop":
			emitAnthropic(ctx, out, orchestrator.LLMChunk{FinishReason: "stop"})
			return

		case "error":
			emitAnthropic(ctx, out, orchestrator.LLMChunk{Err: fmt.Errorf("anthropic: stream error event")})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emitAnthropic(ctx, out, orchestrator.LLMChunk{Err: fmt.Errorf("anthropic: scan: %w", err)})
	}
}

func emitAnthropic(ctx context.Context, out chan<- orchestrator.LLMChunk, c orchestrator.LLMChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
