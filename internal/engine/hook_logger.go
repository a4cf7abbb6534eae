// engine/hook_logger.go
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoggerHook logs loop events through zap.
type LoggerHook struct{ L *zap.Logger }

func (h LoggerHook) OnStepStart(_ context.Context, st *State) {
	h.L.Debug("step start", zap.Int("step", st.Step), zap.String("model", st.Model))
}
func (h LoggerHook) OnBeforeLLM(_ context.Context, st *State, msgs []ChatMessage, toolSchemas []ToolSchema) {
	h.L.Debug("llm request",
		zap.Int("step", st.Step),
		zap.Int("messages", len(msgs)),
		zap.Int("tools", len(toolSchemas)),
		zap.Int("message_tokens", MessageTokens(msgs)),
		zap.Int("tool_tokens", SchemaTokens(toolSchemas)),
		zap.Int("cumulative_tokens", st.Totals.Total))
}
func (h LoggerHook) OnAfterLLM(_ context.Context, st *State, r LLMResponse) {
	h.L.Debug("llm response",
		zap.String("finish", r.FinishReason),
		zap.Int("prompt_tokens", r.Usage.Prompt),
		zap.Int("completion_tokens", r.Usage.Completion),
		zap.Int("tool_calls", len(r.ToolCalls)))
}
func (h LoggerHook) OnToolCall(_ context.Context, _ *State, c ToolCall) {
	h.L.Info("tool call", zap.String("tool", c.Name), zap.String("call_id", c.ID), zap.Any("args", c.Args))
}
func (h LoggerHook) OnToolResult(_ context.Context, _ *State, c ToolCall, result ToolResult, err error) {
	if err != nil {
		h.L.Warn("tool failed", zap.String("tool", c.Name), zap.String("call_id", c.ID), zap.Error(err))
		return
	}
	preview := result.Text()
	if r := []rune(preview); len(r) > 100 {
		preview = string(r[:100]) + "..."
	}
	h.L.Debug("tool result", zap.String("tool", c.Name), zap.String("call_id", c.ID), zap.String("preview", preview))
}
func (h LoggerHook) OnHistoryChanged(_ context.Context, _ *State) {}
func (h LoggerHook) OnDone(_ context.Context, st *State) {
	h.L.Debug("done", zap.Int("steps", st.Step), zap.Int("tokens", st.Totals.Total))
}
func (h LoggerHook) OnRetryAttempt(_ context.Context, _ *State, attempt int, maxAttempts int, delay time.Duration, err error) {
	h.L.Warn("retry", zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts), zap.Duration("delay", delay), zap.Error(err))
}
func (h LoggerHook) OnRetryExhausted(_ context.Context, _ *State, err error) {
	h.L.Error("retries exhausted", zap.Error(err))
}
