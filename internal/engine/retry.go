package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// maybeRetryLimit caps retries for RetryClassMaybe errors regardless of policy.
const maybeRetryLimit = 2

// RetryPolicy defines exponential backoff for one kind of operation.
type RetryPolicy struct {
	MaxRetries   int           // 0 disables retries
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool // adds up to 20% random delay
}

// RetryConfig holds separate policies for LLM and tool calls.
type RetryConfig struct {
	LLMPolicy  RetryPolicy
	ToolPolicy RetryPolicy
}

// Delay returns how long to wait before retry number attempt (0-based). A
// Retry-After hint carried by err takes precedence, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	if hint := ExtractRetryAfter(err); hint > 0 {
		return min(hint, p.MaxDelay)
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	d = math.Min(d, float64(p.MaxDelay))
	if p.Jitter {
		d += rand.Float64() * 0.2 * d
	}
	return time.Duration(d)
}

// RetryableFunc is one attempt of a retried operation.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// RetryWithPolicy runs fn until it succeeds, classify reports a
// non-retryable error, or the policy is exhausted. onRetry, when set, is
// called before each wait with the 1-based retry number.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn RetryableFunc[T],
	classify func(error) RetryClass,
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		switch class := classify(err); {
		case class == RetryClassNonRetryable:
			return zero, err
		case attempt >= policy.MaxRetries:
			return zero, NewRetryExhaustedError(err, attempt, policy.MaxRetries, false)
		case class == RetryClassMaybe && attempt >= maybeRetryLimit:
			return zero, NewRetryExhaustedError(err, attempt, maybeRetryLimit, true)
		}

		delay := policy.Delay(attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", CheckAbort(ctx))
		case <-timer.C:
		}
	}
}

// RetryLLMCall runs one chat completion under policy.
func RetryLLMCall(
	ctx context.Context,
	policy RetryPolicy,
	llm LLMClient,
	model string,
	messages []ChatMessage,
	toolSchemas []ToolSchema,
	opts ChatOptions,
	onRetry func(attempt int, delay time.Duration, err error),
) (LLMResponse, error) {
	return RetryWithPolicy(ctx, policy,
		func(ctx context.Context) (LLMResponse, error) {
			return llm.Chat(ctx, model, messages, toolSchemas, opts)
		},
		ClassifyLLMError, onRetry)
}

// RetryToolCall executes call from reg under policy. Tools not marked
// Retryable run exactly once.
func RetryToolCall(
	ctx context.Context,
	policy RetryPolicy,
	call ToolCall,
	reg ToolRegistry,
	onRetry func(attempt int, delay time.Duration, err error),
) (ToolResult, error) {
	tool, ok := reg[call.Name]
	if !ok {
		return ToolResult{}, fmt.Errorf("tool not found: %s (available tools: %v)", call.Name, reg.Names())
	}
	if !tool.Retryable {
		policy = RetryPolicy{}
	}
	return RetryWithPolicy(ctx, policy,
		func(ctx context.Context) (ToolResult, error) {
			return tool.Execute(ctx, call.ID, call.Args)
		},
		func(err error) RetryClass { return ClassifyToolError(err, tool.Retryable) },
		onRetry)
}
