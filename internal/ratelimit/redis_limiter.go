package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared across every gateway
// replica via Redis INCR/PEXPIRE, for deployments running more than one
// instance behind a load balancer where per-process token buckets would
// let each replica grant its own full quota. A single instance should
// prefer the in-memory Limiter; it needs no network round trip per check.
type RedisLimiter struct {
	rdb       *redis.Client
	capacity  int
	window    time.Duration
	keyPrefix string
	logger    *log.Logger
}

func NewRedisLimiter(addr, password string, db int, capacity int, window time.Duration) (*RedisLimiter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	return &RedisLimiter{
		rdb:       rdb,
		capacity:  capacity,
		window:    window,
		keyPrefix: "ocx:ratelimit:",
		logger:    log.New(log.Writer(), "[RATELIMIT-REDIS] ", log.LstdFlags),
	}, nil
}

func (l *RedisLimiter) Close() error {
	return l.rdb.Close()
}

// Check increments key's counter for the current window, allowing the
// request to proceed as long as the resulting count is within capacity.
// A Redis error fails open (Allowed: true) rather than blocking every
// agent in the deployment on a transient infrastructure blip.
func (l *RedisLimiter) Check(key string) Decision {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	redisKey := l.keyPrefix + key
	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Printf("redis incr failed for key=%s, failing open: %v", key, err)
		return Decision{Allowed: true, Remaining: l.capacity, Limit: l.capacity}
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, redisKey, l.window).Err(); err != nil {
			l.logger.Printf("redis pexpire failed for key=%s: %v", key, err)
		}
	}

	ttl, err := l.rdb.PTTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	resetTime := time.Now().Add(ttl)

	if count > int64(l.capacity) {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      l.capacity,
			ResetTime:  resetTime,
			RetryAfter: ttl,
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: l.capacity - int(count),
		Limit:     l.capacity,
		ResetTime: resetTime,
	}
}
