package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsUpToCapacityThenRejects(t *testing.T) {
	l := New(Config{Capacity: 3, RefillRate: 3, RefillEvery: time.Minute})

	for i := 0; i < 3; i++ {
		d := l.Check("agent:1")
		assert.True(t, d.Allowed, "request %d should be allowed within capacity", i)
	}

	d := l.Check("agent:1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(Config{Capacity: 1, RefillRate: 1, RefillEvery: time.Minute})

	assert.True(t, l.Check("agent:1").Allowed)
	assert.False(t, l.Check("agent:1").Allowed)
	assert.True(t, l.Check("agent:2").Allowed, "a different key must have its own bucket")
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l := New(Config{Capacity: 1, RefillRate: 1, RefillEvery: 50 * time.Millisecond})

	assert.True(t, l.Check("agent:1").Allowed)
	assert.False(t, l.Check("agent:1").Allowed)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Check("agent:1").Allowed, "bucket should have refilled a token")
}

func TestLimiter_DefaultsAppliedWhenZero(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, 60, l.cfg.Capacity)
	assert.Equal(t, 60, l.cfg.RefillRate)
	assert.Equal(t, time.Minute, l.cfg.RefillEvery)
}

// Checker interface compliance: both implementations must satisfy it so
// callers can depend on the interface rather than a concrete type.
var (
	_ Checker = (*Limiter)(nil)
	_ Checker = (*RedisLimiter)(nil)
)
