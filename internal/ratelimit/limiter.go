// Package ratelimit provides per-principal request admission.
//
// DESIGN: Token-bucket per user. Capacity equals the per-minute quota and
// the refill rate is quota/60 tokens per second, so a full minute of idle
// time restores the whole quota and sustained traffic settles at the quota
// rate. Buckets are created lazily and pruned when the key map grows past
// its bound.
package ratelimit

import (
	"sync"
	"time"

	"github.com/synthlang/proxy/internal/config"
)

const maxKeys = 10000

// bucket implements token bucket admission for one principal.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(qpm int) *bucket {
	return &bucket{
		tokens:     float64(qpm),
		maxTokens:  float64(qpm),
		refillRate: float64(qpm) / 60.0,
		lastRefill: time.Now(),
	}
}

// allow consumes one token when available.
func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill adds tokens based on time elapsed (must be called with lock held).
func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// waitTime reports how long until one token becomes available.
func (b *bucket) waitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		return 0
	}

	needed := 1 - b.tokens
	seconds := needed / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

func (b *bucket) currentTokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Limiter manages token buckets for all principals.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	cfg     config.RateLimitConfig
}

// New creates a Limiter with the configured quotas.
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
	}
}

// Admit consumes one token for the user, creating a bucket sized to
// quotaQPM on first use.
func (l *Limiter) Admit(userID string, quotaQPM int) bool {
	return l.getBucket(userID, quotaQPM).allow()
}

// RetryAfter reports how long the user must wait for the next token.
func (l *Limiter) RetryAfter(userID string, quotaQPM int) time.Duration {
	return l.getBucket(userID, quotaQPM).waitTime()
}

// Reset discards the bucket for a user.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, userID)
}

// QuotaFor resolves the per-minute quota for a principal: a positive
// per-key override wins, otherwise the role decides.
func (l *Limiter) QuotaFor(premium bool, overrideQPM int) int {
	if overrideQPM > 0 {
		return overrideQPM
	}
	if premium {
		return l.cfg.PremiumQPM
	}
	return l.cfg.DefaultQPM
}

// getBucket returns or creates the bucket for a user.
func (l *Limiter) getBucket(userID string, quotaQPM int) *bucket {
	l.mu.RLock()
	b, exists := l.buckets[userID]
	l.mu.RUnlock()

	if exists {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock.
	if b, exists = l.buckets[userID]; exists {
		return b
	}

	if len(l.buckets) >= maxKeys {
		l.prune()
	}

	b = newBucket(quotaQPM)
	l.buckets[userID] = b
	return b
}

// prune removes buckets with nearly full tokens (inactive principals).
// Must be called with the write lock held.
func (l *Limiter) prune() {
	for key, b := range l.buckets {
		if b.currentTokens() >= b.maxTokens*0.9 {
			delete(l.buckets, key)
		}
	}
}
