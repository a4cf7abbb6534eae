package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

// OpenAIClient implements engine.LLMClient over any OpenAI-compatible API.
type OpenAIClient struct {
	client  *openai.Client
	baseURL string
}

// NewOpenAIClient creates a client. An empty baseURL targets api.openai.com.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config), baseURL: baseURL}, nil
}

// Chat implements engine.LLMClient.
func (c *OpenAIClient) Chat(ctx context.Context, modelName string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	tools, err := toOpenAITools(toolSchemas)
	if err != nil {
		return engine.LLMResponse{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		httpStatus, retryAfter := extractErrorMetadata(err)
		return engine.LLMResponse{}, engine.WrapLLMError(err, httpStatus, retryAfter)
	}
	if len(resp.Choices) == 0 {
		return engine.LLMResponse{}, fmt.Errorf("empty response from OpenAI")
	}
	choice := resp.Choices[0]

	toolCalls := fromOpenAIToolCalls(choice.Message.ToolCalls)

	finishReason := "stop"
	switch {
	case len(toolCalls) > 0:
		finishReason = "tool_calls"
	case choice.FinishReason == openai.FinishReasonLength:
		finishReason = "length"
	case choice.FinishReason == openai.FinishReasonContentFilter:
		finishReason = "content_filter"
	}

	return engine.LLMResponse{
		Assistant: engine.ChatMessage{
			Role:      engine.RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: toolCalls,
		},
		ToolCalls: toolCalls,
		Usage: engine.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		FinishReason: finishReason,
	}, nil
}

// toOpenAIMessages converts engine history. System messages are merged and
// moved to the front. Tool results that do not follow an assistant turn with
// tool calls are dropped since the API rejects them.
func toOpenAIMessages(messages []engine.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	var system string
	var openToolCalls bool

	for _, msg := range messages {
		switch msg.Role {
		case engine.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case engine.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
			openToolCalls = false
		case engine.RoleAssistant:
			// An empty string is serialized as null, which some
			// compatible servers reject next to tool_calls.
			content := msg.Content
			if content == "" {
				content = " "
			}
			var calls []openai.ToolCall
			for _, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				calls = append(calls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: calls,
			})
			openToolCalls = len(calls) > 0
		case engine.RoleTool:
			if !openToolCalls {
				continue
			}
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.Name,
				Content:    content,
			})
		}
	}

	if system != "" {
		out = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		}}, out...)
	}
	return out
}

func toOpenAITools(schemas []engine.ToolSchema) ([]openai.Tool, error) {
	var tools []openai.Tool
	for _, ts := range schemas {
		var params map[string]any
		if err := json.Unmarshal([]byte(ts.JSONSchema), &params); err != nil {
			return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ts.Name,
				Description: ts.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

// fromOpenAIToolCalls decodes the requested calls. Undecodable arguments are
// reported on ToolCall.Error so the loop can tell the model.
func fromOpenAIToolCalls(calls []openai.ToolCall) []engine.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]engine.ToolCall, 0, len(calls))
	for _, tc := range calls {
		call := engine.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: map[string]any{}}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Args); err != nil {
				call.Args = map[string]any{}
				call.Error = fmt.Sprintf("arguments are not valid JSON: %v", err)
			}
		}
		out = append(out, call)
	}
	return out
}
