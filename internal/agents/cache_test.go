package agents

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExec(name string) func() (*Executor, error) {
	return func() (*Executor, error) {
		return NewExecutor(ExecutorConfig{Agent: name}), nil
	}
}

func TestExecutorCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewExecutorCache(2)
	_, hit, err := c.GetOrCreate("s1:a", newExec("a"))
	require.NoError(t, err)
	assert.False(t, hit)
	_, _, err = c.GetOrCreate("s1:b", newExec("b"))
	require.NoError(t, err)

	_, ok := c.Get("s1:a")
	require.True(t, ok)
	_, _, err = c.GetOrCreate("s1:c", newExec("c"))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("s1:b")
	assert.False(t, ok, "b was least recently used")
	e, hit, err := c.GetOrCreate("s1:a", newExec("other"))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "a", e.Agent())
}

func TestExecutorCacheClearByPrefix(t *testing.T) {
	c := NewExecutorCache(0)
	for _, key := range []string{CacheKey("s1", "main"), CacheKey("s1", "billing"), CacheKey("s10", "main"), CacheKey("s2", "main")} {
		_, _, err := c.GetOrCreate(key, newExec(key))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Clear("s1:"))
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("s10:main")
	assert.True(t, ok)

	assert.Equal(t, 2, c.Clear(""))
	assert.Zero(t, c.Len())

	_, _, err := c.GetOrCreate("s3:main", newExec("main"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestExecutorCacheDeduplicatesCreation(t *testing.T) {
	c := NewExecutorCache(0)
	var created atomic.Int32
	create := func() (*Executor, error) {
		created.Add(1)
		time.Sleep(20 * time.Millisecond)
		return NewExecutor(ExecutorConfig{Agent: "main"}), nil
	}

	var wg sync.WaitGroup
	results := make([]*Executor, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, _, err := c.GetOrCreate("s:main", create)
			assert.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, created.Load())
	for _, e := range results {
		assert.Same(t, results[0], e)
	}
}

func TestExecutorCacheCreateError(t *testing.T) {
	c := NewExecutorCache(0)
	_, _, err := c.GetOrCreate("s:main", func() (*Executor, error) { return nil, errors.New("no model") })
	require.EqualError(t, err, "no model")
	assert.Zero(t, c.Len())
}
