// Package ratelimit gates OTP issuance. The limiter is pluggable so a
// single instance can run on the in-memory implementation while
// multi-instance deployments share counts through redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

type Limiter interface {
	// Allow reports whether one more event is permitted for key within
	// the current window.
	Allow(ctx context.Context, key string) (bool, error)
}

type bucket struct {
	count      int
	windowFrom time.Time
}

type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowFrom) >= l.window {
		l.buckets[key] = &bucket{count: 1, windowFrom: now}
		return true, nil
	}
	if b.count >= l.limit {
		return false, nil
	}
	b.count++
	return true, nil
}

type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(l.limit), nil
}
