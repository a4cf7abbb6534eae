package agents

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/session"
)

// mockLLM answers through respond and counts calls.
type mockLLM struct {
	mu      sync.Mutex
	calls   int
	models  []string
	respond func(msgs []engine.ChatMessage, schemas []engine.ToolSchema) (engine.LLMResponse, error)
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []engine.ChatMessage, schemas []engine.ToolSchema, _ engine.ChatOptions) (engine.LLMResponse, error) {
	m.mu.Lock()
	m.calls++
	m.models = append(m.models, model)
	m.mu.Unlock()
	return m.respond(msgs, schemas)
}

func (m *mockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func replyWith(text string) func([]engine.ChatMessage, []engine.ToolSchema) (engine.LLMResponse, error) {
	return func([]engine.ChatMessage, []engine.ToolSchema) (engine.LLMResponse, error) {
		return final(text), nil
	}
}

func final(text string) engine.LLMResponse {
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: text},
		FinishReason: "stop",
	}
}

func callTool(id, name string, args map[string]any) engine.LLMResponse {
	calls := []engine.ToolCall{{ID: id, Name: name, Args: args}}
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, ToolCalls: calls},
		ToolCalls:    calls,
		FinishReason: "tool_calls",
	}
}

func lastMessage(msgs []engine.ChatMessage) engine.ChatMessage {
	return msgs[len(msgs)-1]
}

// staticResolver hands out one client for every model.
type staticResolver struct {
	llm engine.LLMClient
}

func (r staticResolver) Client(qualified string) (engine.LLMClient, string, error) {
	return r.llm, qualified, nil
}

func noRetry() *engine.RetryConfig {
	return &engine.RetryConfig{
		LLMPolicy:  engine.RetryPolicy{MaxRetries: 0},
		ToolPolicy: engine.RetryPolicy{MaxRetries: 0},
	}
}

func newSession(t *testing.T) (*session.Manager, string) {
	t.Helper()
	sessions, err := session.NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	id, err := sessions.Create("user-1")
	require.NoError(t, err)
	return sessions, id
}
