// Package semcache caches completed responses keyed by semantic
// similarity of the request embedding.
//
// DESIGN: One flat per-model shard of unit-normalized vectors; with the
// item bound in the hundreds-to-thousands range a linear scan beats any
// index structure worth maintaining. Lookups take the shard read lock
// and compare by dot product (cosine over unit vectors); hit metadata
// is atomic so a lookup never needs the write lock. Inserts and LRU
// evictions serialize on the shard write lock. Models never see each
// other's entries.
//
// FILES:
//   - semcache.go:  cache, shards, lookup/insert/clear/stats
//   - canonical.go: request canonicalization and digest
package semcache

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Hit is a successful lookup.
type Hit struct {
	EntryID    string
	Response   []byte
	Similarity float64
}

// ModelStats is the per-model slice of Stats.
type ModelStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Stats aggregates cache counters, optionally broken down per model.
type Stats struct {
	Entries   int                   `json:"entries"`
	Hits      int64                 `json:"hits"`
	Misses    int64                 `json:"misses"`
	Evictions int64                 `json:"evictions"`
	Models    map[string]ModelStats `json:"models,omitempty"`
}

type entry struct {
	id        string
	digest    string
	vector    []float32
	response  []byte
	createdAt time.Time
	lastHit   atomic.Int64 // unix nanos
	hitCount  atomic.Int64
}

type shard struct {
	mu      sync.RWMutex
	entries []*entry

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Cache is the process-wide semantic cache.
type Cache struct {
	mu       sync.RWMutex
	shards   map[string]*shard
	maxItems int
	onEvict  func()
}

// OnEvict registers a callback invoked once per capacity eviction.
// Must be set before the cache sees traffic.
func (c *Cache) OnEvict(fn func()) {
	c.onEvict = fn
}

// New builds a cache bounded to maxItems entries per model.
func New(maxItems int) *Cache {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Cache{
		shards:   make(map[string]*shard),
		maxItems: maxItems,
	}
}

func (c *Cache) shardFor(model string, create bool) *shard {
	c.mu.RLock()
	s, ok := c.shards[model]
	c.mu.RUnlock()
	if ok || !create {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.shards[model]; ok {
		return s
	}
	s = &shard{}
	c.shards[model] = s
	return s
}

// Lookup returns the nearest entry for the model whose cosine
// similarity reaches threshold, or nil on a miss. Similarity ties go to
// the entry hit most recently. A hit refreshes the entry's recency and
// hit count. The returned response bytes are shared; callers must not
// modify them.
func (c *Cache) Lookup(model string, vector []float32, threshold float64) *Hit {
	s := c.shardFor(model, false)
	if s == nil {
		return nil
	}

	query := normalize(vector)

	s.mu.RLock()
	var (
		best    *entry
		bestSim float64
		bestHit int64
	)
	for _, e := range s.entries {
		sim := dot(query, e.vector)
		if sim < threshold {
			continue
		}
		last := e.lastHit.Load()
		if best == nil || sim > bestSim || (sim == bestSim && last > bestHit) {
			best, bestSim, bestHit = e, sim, last
		}
	}
	s.mu.RUnlock()

	if best == nil {
		s.misses.Add(1)
		return nil
	}

	best.lastHit.Store(time.Now().UnixNano())
	best.hitCount.Add(1)
	s.hits.Add(1)
	return &Hit{EntryID: best.id, Response: best.response, Similarity: bestSim}
}

// Insert stores a completed response under the model. An entry with the
// same request digest is replaced in place; otherwise the least
// recently hit entry is evicted once the per-model bound is reached.
// Returns the entry id.
func (c *Cache) Insert(model string, vector []float32, digest []byte, response []byte) string {
	s := c.shardFor(model, true)
	now := time.Now()

	e := &entry{
		id:        uuid.New().String(),
		digest:    string(digest),
		vector:    normalize(vector),
		response:  response,
		createdAt: now,
	}
	e.lastHit.Store(now.UnixNano())

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.entries {
		if existing.digest == e.digest {
			s.entries[i] = e
			return e.id
		}
	}

	for len(s.entries) >= c.maxItems {
		s.evictLocked()
		if c.onEvict != nil {
			c.onEvict()
		}
	}
	s.entries = append(s.entries, e)
	return e.id
}

// evictLocked removes the least recently hit entry. Caller holds the
// shard write lock.
func (s *shard) evictLocked() {
	if len(s.entries) == 0 {
		return
	}
	oldest := 0
	oldestHit := s.entries[0].lastHit.Load()
	for i, e := range s.entries[1:] {
		if last := e.lastHit.Load(); last < oldestHit {
			oldest, oldestHit = i+1, last
		}
	}
	last := len(s.entries) - 1
	s.entries[oldest] = s.entries[last]
	s.entries[last] = nil
	s.entries = s.entries[:last]
	s.evictions.Add(1)
}

// Clear drops every entry for model, or for all models when model is
// empty. Returns the number of entries removed. Counters survive.
func (c *Cache) Clear(model string) int {
	c.mu.RLock()
	var shards []*shard
	if model == "" {
		shards = make([]*shard, 0, len(c.shards))
		for _, s := range c.shards {
			shards = append(shards, s)
		}
	} else if s, ok := c.shards[model]; ok {
		shards = append(shards, s)
	}
	c.mu.RUnlock()

	removed := 0
	for _, s := range shards {
		s.mu.Lock()
		removed += len(s.entries)
		s.entries = nil
		s.mu.Unlock()
	}
	return removed
}

// Stats reports counters for model, or for all models (with a per-model
// breakdown) when model is empty.
func (c *Cache) Stats(model string) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model != "" {
		s, ok := c.shards[model]
		if !ok {
			return Stats{}
		}
		ms := s.stats()
		return Stats{Entries: ms.Entries, Hits: ms.Hits, Misses: ms.Misses, Evictions: ms.Evictions}
	}

	out := Stats{Models: make(map[string]ModelStats, len(c.shards))}
	for name, s := range c.shards {
		ms := s.stats()
		out.Models[name] = ms
		out.Entries += ms.Entries
		out.Hits += ms.Hits
		out.Misses += ms.Misses
		out.Evictions += ms.Evictions
	}
	return out
}

func (s *shard) stats() ModelStats {
	s.mu.RLock()
	entries := len(s.entries)
	s.mu.RUnlock()
	return ModelStats{
		Entries:   entries,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}

// dot is cosine similarity over unit vectors. Mismatched dimensions
// never match.
func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return -1
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize returns a unit-length copy. The zero vector is returned as
// a zero copy.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	norm := math.Sqrt(sum)
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
