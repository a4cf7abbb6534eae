package agents

import (
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"
)

// CacheKey identifies the executor of agent within a session.
func CacheKey(sessionID, agent string) string {
	return sessionID + ":" + agent
}

// ExecutorCache keeps recently used executors in LRU order. Concurrent
// misses for the same key share one construction.
type ExecutorCache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	keys  map[string]struct{}
	group singleflight.Group
}

// NewExecutorCache returns a cache holding at most capacity executors.
// Zero means unbounded.
func NewExecutorCache(capacity int) *ExecutorCache {
	if capacity < 0 {
		capacity = 0
	}
	c := &ExecutorCache{lru: lru.New(capacity), keys: make(map[string]struct{})}
	c.lru.OnEvicted = func(key lru.Key, _ interface{}) {
		delete(c.keys, key.(string))
	}
	return c
}

// Get returns the cached executor for key, marking it recently used.
func (c *ExecutorCache) Get(key string) (*Executor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*Executor), true
}

// GetOrCreate returns the executor for key, calling create on a miss.
// hit reports whether the executor was already cached.
func (c *ExecutorCache) GetOrCreate(key string, create func() (*Executor, error)) (exec *Executor, hit bool, err error) {
	if e, ok := c.Get(key); ok {
		return e, true, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if e, ok := c.Get(key); ok {
			return e, nil
		}
		e, err := create()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.lru.Add(key, e)
		c.keys[key] = struct{}{}
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Executor), false, nil
}

// Clear removes every key starting with prefix and returns how many were
// removed. An empty prefix clears the whole cache.
func (c *ExecutorCache) Clear(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prefix == "" {
		n := c.lru.Len()
		c.lru.Clear()
		return n
	}
	var doomed []string
	for k := range c.keys {
		if strings.HasPrefix(k, prefix) {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		c.lru.Remove(k)
	}
	return len(doomed)
}

func (c *ExecutorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
