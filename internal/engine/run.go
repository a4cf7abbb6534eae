package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrMaxSteps is returned by Run when the model keeps calling tools past
// State.MaxSteps.
var ErrMaxSteps = errors.New("max steps reached without a final answer")

// Run executes the tool-calling loop until the model answers without tool
// calls, max steps are reached, or an error occurs.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - llm: LLM client for making chat completion calls
//   - reg: Registry of available tools
//   - st: Engine state (history, step count, etc.) - modified in place
//   - hooks: Observability hooks for monitoring execution
//   - opts: Chat options including retry configuration
//
// Step counting: Steps increment only on successful completion. Retries are tracked separately.
func Run(ctx context.Context, llm LLMClient, reg ToolRegistry, st *State, hooks Hooks, opts ChatOptions) error {
	st.Step = 0
	if st.MaxSteps <= 0 {
		st.MaxSteps = DefaultMaxSteps
	}

	for st.Step < st.MaxSteps && !st.Done {
		if err := CheckAbort(ctx); err != nil {
			return fmt.Errorf("execution cancelled: %w", err)
		}

		// stepOnce handles retries internally, so an error here is final.
		if err := stepOnce(ctx, llm, reg, st, hooks, opts); err != nil {
			return err
		}
		st.Step++
	}
	if !st.Done {
		return fmt.Errorf("%w (%d)", ErrMaxSteps, st.MaxSteps)
	}
	hooks.OnDone(ctx, st)
	return nil
}
