package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// getRetryConfig returns the retry configuration, using defaults if not provided.
func getRetryConfig(opts ChatOptions) *RetryConfig {
	if opts.RetryConfig != nil {
		return opts.RetryConfig
	}
	defaultConfig := DefaultRetryConfig()
	return &defaultConfig
}

// handleRetryExhaustion calls OnRetryExhausted on all hooks if the error indicates retries were exhausted.
func handleRetryExhaustion(hooks Hooks, ctx context.Context, st *State, err error) {
	if IsRetryExhausted(err) {
		hooks.OnRetryExhausted(ctx, st, err)
	}
}

// ToolErrorText is the content the model sees when a tool call fails.
func ToolErrorText(toolName string, err error) string {
	return fmt.Sprintf("Error in %s: %v", toolName, err)
}

// toolOutcome represents the result of executing a tool call.
type toolOutcome struct {
	call   ToolCall
	result ToolResult
	err    error
}

// executeToolsWithRetry executes tool calls in parallel and returns outcomes
// in call order. Tool failures are recorded on the outcome; only an abort
// fails the whole batch.
func executeToolsWithRetry(ctx context.Context, calls []ToolCall, reg ToolRegistry, retryConfig *RetryConfig, hooks Hooks, st *State) ([]toolOutcome, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	outcomes := make([]toolOutcome, len(calls))
	g, gctx := errgroup.WithContext(ctx)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if err := CheckAbort(gctx); err != nil {
				outcomes[i] = toolOutcome{call: call, err: err}
				return err
			}

			hooks.OnToolCall(gctx, st, call)

			res, err := executeTool(gctx, call, reg, retryConfig, hooks, st)
			outcomes[i] = toolOutcome{call: call, result: res, err: err}
			if errors.Is(err, ErrAborted) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func executeTool(ctx context.Context, call ToolCall, reg ToolRegistry, retryConfig *RetryConfig, hooks Hooks, st *State) (ToolResult, error) {
	if call.Error != "" {
		return ToolResult{}, fmt.Errorf("invalid tool call: %s", call.Error)
	}
	res, err := RetryToolCall(
		ctx,
		retryConfig.ToolPolicy,
		call,
		reg,
		func(attempt int, delay time.Duration, retryErr error) {
			hooks.OnRetryAttempt(ctx, st, attempt, retryConfig.ToolPolicy.MaxRetries, delay, retryErr)
		},
	)
	handleRetryExhaustion(hooks, ctx, st, err)
	return res, err
}

// callLLMWithRetry calls the LLM with retry logic and returns the response.
func callLLMWithRetry(ctx context.Context, llm LLMClient, model string, msgs []ChatMessage, schemas []ToolSchema, opts ChatOptions, retryConfig *RetryConfig, hooks Hooks, st *State) (LLMResponse, error) {
	resp, err := RetryLLMCall(
		ctx,
		retryConfig.LLMPolicy,
		llm,
		model,
		msgs,
		schemas,
		opts,
		func(attempt int, delay time.Duration, retryErr error) {
			st.Retries++
			hooks.OnRetryAttempt(ctx, st, attempt, retryConfig.LLMPolicy.MaxRetries, delay, retryErr)
		},
	)
	if err != nil {
		handleRetryExhaustion(hooks, ctx, st, err)
		return LLMResponse{}, err
	}
	return resp, nil
}

// processLLMResponse updates state, appends to history, and tracks usage.
func processLLMResponse(ctx context.Context, resp LLMResponse, st *State, hooks Hooks) {
	hooks.OnAfterLLM(ctx, st, resp)

	st.Totals.Add(resp.Usage)

	assistantMsg := resp.Assistant
	assistantMsg.Role = RoleAssistant
	assistantMsg.ToolCalls = resp.ToolCalls
	st.Append(assistantMsg)
	hooks.OnHistoryChanged(ctx, st)
}

// executeToolCalls executes tool calls and appends results to history.
func executeToolCalls(ctx context.Context, calls []ToolCall, reg ToolRegistry, retryConfig *RetryConfig, hooks Hooks, st *State) error {
	if len(calls) == 0 {
		return nil
	}

	outcomes, err := executeToolsWithRetry(ctx, calls, reg, retryConfig, hooks, st)
	if err != nil {
		return err
	}

	// Tool messages carry the call ID so providers can match them to calls.
	for _, o := range outcomes {
		content := o.result.Text()
		if o.err != nil {
			content = ToolErrorText(o.call.Name, o.err)
		}
		toolCallID := o.call.ID
		if toolCallID == "" {
			toolCallID = o.call.Name
		}
		st.Append(ChatMessage{Role: RoleTool, Name: toolCallID, Content: content})
		hooks.OnToolResult(ctx, st, o.call, o.result, o.err)
	}
	hooks.OnHistoryChanged(ctx, st)

	return nil
}

func stepOnce(ctx context.Context, llm LLMClient, reg ToolRegistry, st *State, hooks Hooks, opts ChatOptions) error {
	hooks.OnStepStart(ctx, st)

	msgs := append([]ChatMessage(nil), st.History...)
	retryConfig := getRetryConfig(opts)
	toolSchemas := reg.Schemas()

	hooks.OnBeforeLLM(ctx, st, msgs, toolSchemas)

	resp, err := callLLMWithRetry(ctx, llm, st.Model, msgs, toolSchemas, opts, retryConfig, hooks, st)
	if err != nil {
		return WrapWithContext(err, st, "llm_call", "")
	}

	processLLMResponse(ctx, resp, st, hooks)

	if len(resp.ToolCalls) == 0 {
		st.Done = true
		return nil
	}

	if err := executeToolCalls(ctx, resp.ToolCalls, reg, retryConfig, hooks, st); err != nil {
		return WrapWithContext(err, st, "tool_execution", "")
	}
	return nil
}
