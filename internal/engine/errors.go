// Package engine provides the tool contract and the tool-calling loop that
// agents run on. This file contains error classification and handling.

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors shared by every tool. Callers distinguish them with errors.Is.
var (
	// ErrAborted means the caller cancelled the operation.
	ErrAborted = errors.New("operation aborted")
	// ErrTimeout means a deadline fired before the operation finished.
	ErrTimeout = errors.New("operation timed out")
	// ErrNotFound means a file, path or agent does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermission means a file exists but cannot be read or written.
	ErrPermission = errors.New("permission denied")
)

// KindError is a user-facing failure classified by one of the sentinels
// above. Error returns Msg unchanged so it can be shown to the model.
type KindError struct {
	Kind error
	Msg  string
}

func (e *KindError) Error() string { return e.Msg }

func (e *KindError) Unwrap() error { return e.Kind }

// NotFoundf builds a KindError of kind ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return &KindError{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Permissionf builds a KindError of kind ErrPermission.
func Permissionf(format string, args ...any) error {
	return &KindError{Kind: ErrPermission, Msg: fmt.Sprintf(format, args...)}
}

// CheckAbort reports whether ctx is done. Cancellation maps to ErrAborted and
// an expired deadline to ErrTimeout wrapping context.DeadlineExceeded.
func CheckAbort(ctx context.Context) error {
	select {
	case <-ctx.Done():
	default:
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
	}
	return ErrAborted
}

// RetryClass indicates whether an error should be retried.
// Used for intelligent retry decision-making.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"     // Definitely retry
	RetryClassMaybe        RetryClass = "maybe"         // Retry with caution (limited attempts)
	RetryClassNonRetryable RetryClass = "non_retryable" // Never retry
)

// EngineError wraps errors with classification metadata.
type EngineError struct {
	Err         error
	Class       RetryClass
	HTTPStatus  int    // HTTP status code if applicable
	RetryAfter  string // Retry-After header value if present
	IsRateLimit bool   // True if this is a rate limit error
	IsTimeout   bool   // True if this is a timeout error
	IsNetwork   bool   // True if this is a network error
	IsAuth      bool   // True if this is an authentication error
	IsQuota     bool   // True if this is a quota exhaustion error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("engine error: %s", e.Class)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// classRule maps any of its substrings, matched against the lowercased
// error text, to a retry class. Rules are checked in order.
type classRule struct {
	class   RetryClass
	needles []string
}

var llmRules = []classRule{
	{RetryClassRetryable, []string{"429", "rate limit", "too many requests"}},
	{RetryClassRetryable, []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout"}},
	{RetryClassRetryable, []string{"timeout", "connection reset", "connection refused", "no such host", "network", "dns", "temporary failure"}},
	{RetryClassMaybe, []string{"deadline exceeded"}},
	{RetryClassMaybe, []string{"context length", "token limit"}},
	{RetryClassNonRetryable, []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "authentication failed"}},
	{RetryClassNonRetryable, []string{"400", "bad request", "invalid request", "malformed"}},
	{RetryClassNonRetryable, []string{"402", "quota", "billing", "payment required"}},
	{RetryClassNonRetryable, []string{"content filter", "safety", "guardrail", "policy violation"}},
}

var toolRules = []classRule{
	{RetryClassRetryable, []string{"timeout", "connection reset", "connection refused", "network", "temporary failure"}},
	{RetryClassRetryable, []string{"500", "502", "503", "504", "internal server error", "service unavailable"}},
	{RetryClassRetryable, []string{"file locked", "resource temporarily unavailable", "spawn", "temporary"}},
	{RetryClassRetryable, []string{"database is locked", "deadlock"}},
}

func classify(err error, rules []classRule) RetryClass {
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(msg, n) {
				return r.class
			}
		}
	}
	return RetryClassNonRetryable
}

// ClassifyLLMError classifies an error from an LLM provider call. Errors
// already wrapped by WrapLLMError keep their class; unknown errors are not
// retried.
func ClassifyLLMError(err error) RetryClass {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrAborted) {
		return RetryClassNonRetryable
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Class
	}
	return classify(err, llmRules)
}

// ClassifyToolError classifies an error from a tool execution. Only tools
// marked Retryable are ever retried, and never for cancellation, schema
// violations or a missing file.
func ClassifyToolError(err error, toolRetryable bool) RetryClass {
	if err == nil || !toolRetryable {
		return RetryClassNonRetryable
	}
	var validationErr *ToolValidationError
	if errors.Is(err, ErrAborted) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermission) || errors.As(err, &validationErr) {
		return RetryClassNonRetryable
	}
	return classify(err, toolRules)
}

// ExtractRetryAfter extracts the Retry-After header value from an error.
// Returns 0 if not found or invalid.
func ExtractRetryAfter(err error) time.Duration {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.RetryAfter != "" {
		// Try parsing as seconds (integer)
		var seconds int
		if _, err := fmt.Sscanf(engineErr.RetryAfter, "%d", &seconds); err == nil {
			return time.Duration(seconds) * time.Second
		}
		// Try parsing as HTTP date (RFC 1123)
		if t, err := time.Parse(time.RFC1123, engineErr.RetryAfter); err == nil {
			now := time.Now()
			if t.After(now) {
				return t.Sub(now)
			}
		}
	}

	// Check error string for common patterns
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "retry after") {
		// Try to extract number from error message
		var seconds int
		if _, err := fmt.Sscanf(errStr, "retry after %d", &seconds); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	return 0
}

// WrapLLMError wraps an LLM provider error with classification metadata.
func WrapLLMError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}

	class := ClassifyLLMError(err)
	engineErr := &EngineError{
		Err:         err,
		Class:       class,
		HTTPStatus:  httpStatus,
		RetryAfter:  retryAfter,
		IsRateLimit: httpStatus == http.StatusTooManyRequests,
		IsTimeout:   httpStatus == http.StatusGatewayTimeout || httpStatus == http.StatusRequestTimeout,
		IsNetwork:   httpStatus == 0 || httpStatus >= 500,
		IsAuth:      httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden,
		IsQuota:     httpStatus == http.StatusPaymentRequired,
	}

	return engineErr
}

// RetryExhaustedError indicates that all retry attempts have been exhausted.
type RetryExhaustedError struct {
	Err         error
	Attempts    int
	MaxAttempts int
	IsGuarded   bool // True if this was a "maybe" class error with limited retries
}

func (e *RetryExhaustedError) Error() string {
	if e.IsGuarded {
		return fmt.Sprintf("guarded retries exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// NewRetryExhaustedError creates a new RetryExhaustedError.
func NewRetryExhaustedError(err error, attempts, maxAttempts int, isGuarded bool) *RetryExhaustedError {
	return &RetryExhaustedError{
		Err:         err,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		IsGuarded:   isGuarded,
	}
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var retryExhausted *RetryExhaustedError
	return errors.As(err, &retryExhausted)
}

// ToolValidationError indicates that tool arguments failed JSON schema validation.
type ToolValidationError struct {
	ToolName string
	Errors   []string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Errors, "; "))
}

// EngineContextError wraps errors with execution context (step, tool, operation).
type EngineContextError struct {
	Err       error
	Step      int
	ToolName  string // If error occurred during tool execution
	Operation string // "llm_call", "tool_execution"
}

func (e *EngineContextError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("[step=%d op=%s tool=%s] %v", e.Step, e.Operation, e.ToolName, e.Err)
	}
	return fmt.Sprintf("[step=%d op=%s] %v", e.Step, e.Operation, e.Err)
}

func (e *EngineContextError) Unwrap() error {
	return e.Err
}

// WrapWithContext wraps an error with execution context for debugging.
func WrapWithContext(err error, st *State, operation string, toolName string) error {
	if err == nil {
		return nil
	}
	return &EngineContextError{
		Err:       err,
		Step:      st.Step,
		ToolName:  toolName,
		Operation: operation,
	}
}
