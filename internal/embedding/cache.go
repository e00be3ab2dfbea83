package embedding

import (
	"sync"
)

const defaultCacheEntries = 256

// vectorCache is a small bounded map from content hash to vector.
// Insertion order is tracked so the oldest entry is dropped when the
// bound is reached. get returns a copy so callers can mutate freely.
type vectorCache struct {
	mu      sync.Mutex
	max     int
	entries map[string][]float32
	order   []string
}

func newVectorCache(max int) *vectorCache {
	if max < 1 {
		max = 1
	}
	return &vectorCache{
		max:     max,
		entries: make(map[string][]float32, max),
	}
}

func (c *vectorCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vec, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

func (c *vectorCache) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		return
	}
	for len(c.entries) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.entries[key] = stored
	c.order = append(c.order, key)
}

func (c *vectorCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
