// Package ratelimit enforces per-agent, per-project token-bucket limits on
// tool invocations and exposes the introspection fields agents need to back
// off correctly (remaining, limit, reset_time, retry_after).
package ratelimit

import (
	"log"
	"sync"
	"time"
)

// Config defines the bucket thresholds for a single key.
type Config struct {
	Capacity   int           // max tokens held by the bucket
	RefillRate int           // tokens added per RefillEvery
	RefillEvery time.Duration
}

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	updatedAt  time.Time
}

// Limiter is a token-bucket rate limiter keyed by an arbitrary string
// (the gateway uses "agent:<agent_id>", "webhook:<provider>" and bare
// trigger IDs).
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     Config
	logger  *log.Logger
}

// Decision reports the outcome of a Check call.
type Decision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Checker is satisfied by both the in-memory Limiter and RedisLimiter, so
// callers (the webhook receiver, the agent-facing API) don't need to know
// which backing a deployment chose.
type Checker interface {
	Check(key string) Decision
}

func New(cfg Config) *Limiter {
	if cfg.Capacity == 0 {
		cfg.Capacity = 60
	}
	if cfg.RefillRate == 0 {
		cfg.RefillRate = cfg.Capacity
	}
	if cfg.RefillEvery == 0 {
		cfg.RefillEvery = time.Minute
	}

	l := &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[RATELIMIT] ", log.LstdFlags),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) refillRatePerSecond() float64 {
	return float64(l.cfg.RefillRate) / l.cfg.RefillEvery.Seconds()
}

// Check consumes one token for key if available. It always reports the
// resulting bucket state, whether or not the request was allowed.
func (l *Limiter) Check(key string) Decision {
	now := time.Now()
	rate := l.refillRatePerSecond()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(l.cfg.Capacity),
			capacity:   float64(l.cfg.Capacity),
			refillRate: rate,
			updatedAt:  now,
		}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.updatedAt).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.updatedAt = now

	deficitToFull := b.capacity - b.tokens
	var resetTime time.Time
	if b.refillRate > 0 {
		resetTime = now.Add(time.Duration(deficitToFull/b.refillRate) * time.Second)
	} else {
		resetTime = now
	}

	if b.tokens < 1 {
		var retryAfter time.Duration
		if b.refillRate > 0 {
			retryAfter = time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
		}
		l.logger.Printf("rate limit exceeded key=%s tokens=%.2f limit=%d", key, b.tokens, l.cfg.Capacity)
		return Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      l.cfg.Capacity,
			ResetTime:  resetTime,
			RetryAfter: retryAfter,
		}
	}

	b.tokens--
	return Decision{
		Allowed:   true,
		Remaining: int(b.tokens),
		Limit:     l.cfg.Capacity,
		ResetTime: resetTime,
	}
}

// cleanup evicts buckets that have been full and idle for a while, so
// long-tail agent/project pairs don't accumulate in memory forever.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		l.mu.Lock()
		for key, b := range l.buckets {
			if b.tokens >= b.capacity && now.Sub(b.updatedAt) > 30*time.Minute {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

// Stats returns a snapshot for the /metrics and admin surfaces.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]interface{}{
		"active_buckets": len(l.buckets),
		"capacity":       l.cfg.Capacity,
		"refill_rate":    l.cfg.RefillRate,
	}
}
