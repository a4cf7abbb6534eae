package providers

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient implements engine.LLMClient over the Anthropic messages API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a client. An empty baseURL targets the public API.
func NewAnthropicClient(apiKey, baseURL string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key not set")
	}
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(apiKey, opts...)}, nil
}

// Chat implements engine.LLMClient.
func (c *AnthropicClient) Chat(ctx context.Context, modelName string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	toolDefs, err := toAnthropicTools(toolSchemas)
	if err != nil {
		return engine.LLMResponse{}, err
	}
	system, msgs := toAnthropicMessages(messages)

	maxTokens := anthropicDefaultMaxTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}
	temperature := float32(0.1)
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(modelName),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if len(system) > 0 {
		req.MultiSystem = system
	}
	if len(toolDefs) > 0 {
		req.Tools = toolDefs
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		httpStatus, retryAfter := extractErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
	}

	var text string
	var toolCalls []engine.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text += *block.Text
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil || block.ID == "" || block.Name == "" {
				continue
			}
			call := engine.ToolCall{ID: block.ID, Name: block.Name, Args: map[string]any{}}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &call.Args); err != nil {
					call.Args = map[string]any{}
					call.Error = fmt.Sprintf("arguments are not valid JSON: %v", err)
				}
			}
			toolCalls = append(toolCalls, call)
		}
	}

	finishReason := "stop"
	switch {
	case len(toolCalls) > 0:
		finishReason = "tool_calls"
	case resp.StopReason == anthropic.MessagesStopReasonMaxTokens:
		finishReason = "length"
	}

	return engine.LLMResponse{
		Assistant: engine.ChatMessage{
			Role:      engine.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		},
		ToolCalls: toolCalls,
		Usage: engine.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: finishReason,
	}, nil
}

// toAnthropicMessages splits system prompts out of the history. Tool results
// become user turns carrying tool_result blocks; consecutive results for the
// same assistant turn share one user message.
func toAnthropicMessages(messages []engine.ChatMessage) ([]anthropic.MessageSystemPart, []anthropic.Message) {
	var system []anthropic.MessageSystemPart
	var out []anthropic.Message
	var openToolCalls bool

	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			system = append(system, anthropic.MessageSystemPart{Type: "text", Text: msg.Content})
		case engine.RoleUser:
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
			openToolCalls = false
		case engine.RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" && msg.Content != " " {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				content = append(content, anthropic.NewToolUseMessageContent(tc.ID, tc.Name, json.RawMessage(argsJSON)))
			}
			if len(content) == 0 {
				content = append(content, anthropic.NewTextMessageContent(" "))
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
			openToolCalls = len(msg.ToolCalls) > 0
		case engine.RoleTool:
			if !openToolCalls {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			block := anthropic.NewToolResultMessageContent(msg.Name, content, false)
			if n := len(out); n > 0 && out[n-1].Role == anthropic.RoleUser && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{block},
			})
		}
	}
	return system, out
}

func isToolResultTurn(m anthropic.Message) bool {
	for _, c := range m.Content {
		if c.Type != anthropic.MessagesContentTypeToolResult {
			return false
		}
	}
	return len(m.Content) > 0
}

func toAnthropicTools(schemas []engine.ToolSchema) ([]anthropic.ToolDefinition, error) {
	var defs []anthropic.ToolDefinition
	for _, ts := range schemas {
		var schemaObj map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &schemaObj); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		defs = append(defs, anthropic.ToolDefinition{
			Name:        ts.Name,
			Description: ts.Description,
			InputSchema: schemaObj,
		})
	}
	return defs, nil
}
