package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0, errors.New("x")))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2, errors.New("x")))
	assert.Equal(t, time.Second, p.Delay(10, errors.New("x")))

	hinted := WrapLLMError(errors.New("slow down"), 429, "30")
	assert.Equal(t, time.Second, p.Delay(0, hinted), "Retry-After is capped at MaxDelay")
}

func TestRetryWithPolicy(t *testing.T) {
	fast := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	always := func(class RetryClass) func(error) RetryClass {
		return func(error) RetryClass { return class }
	}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls, retries := 0, 0
		got, err := RetryWithPolicy(context.Background(), fast,
			func(context.Context) (int, error) {
				calls++
				if calls < 3 {
					return 0, errors.New("503")
				}
				return 42, nil
			},
			always(RetryClassRetryable),
			func(int, time.Duration, error) { retries++ })
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, retries)
	})

	t.Run("non-retryable returns immediately", func(t *testing.T) {
		calls := 0
		_, err := RetryWithPolicy(context.Background(), fast,
			func(context.Context) (int, error) { calls++; return 0, errors.New("401") },
			always(RetryClassNonRetryable), nil)
		require.Error(t, err)
		assert.False(t, IsRetryExhausted(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		_, err := RetryWithPolicy(context.Background(), fast,
			func(context.Context) (int, error) { calls++; return 0, errors.New("503") },
			always(RetryClassRetryable), nil)
		assert.True(t, IsRetryExhausted(err))
		assert.Equal(t, 4, calls)
	})

	t.Run("maybe class is capped", func(t *testing.T) {
		calls := 0
		_, err := RetryWithPolicy(context.Background(), RetryPolicy{MaxRetries: 10, Multiplier: 1},
			func(context.Context) (int, error) { calls++; return 0, errors.New("deadline exceeded") },
			always(RetryClassMaybe), nil)
		var ex *RetryExhaustedError
		require.ErrorAs(t, err, &ex)
		assert.True(t, ex.IsGuarded)
		assert.Equal(t, maybeRetryLimit+1, calls)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
		_, err := RetryWithPolicy(ctx, slow,
			func(context.Context) (int, error) { return 0, errors.New("503") },
			always(RetryClassRetryable),
			func(int, time.Duration, error) { cancel() })
		assert.ErrorIs(t, err, ErrAborted)
	})
}
