// Package ratelimit implements per-(endpoint_category, key) rate limiting;
// the HTTP middleware passes the caller's remote address as the key, so
// the tenant is not part of it. golang.org/x/time/rate token buckets in process, with an
// optional Redis-backed distributed counter for multi-replica deployments.
// The in-process limiter is the fallback when REDIS_URL is unset.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Rule configures one endpoint category's budget.
type Rule struct {
	RPM   int
	Burst int
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, category, key string) (bool, error)
}

// LocalLimiter keeps one golang.org/x/time/rate.Limiter per (category, key)
// pair, swept on a ticker so idle buckets don't accumulate.
type LocalLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rules    map[string]Rule
	fallback Rule
}

// NewLocal builds an in-process limiter and starts its idle-bucket sweeper.
func NewLocal(rules map[string]Rule, fallback Rule) *LocalLimiter {
	l := &LocalLimiter{
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rules:    rules,
		fallback: fallback,
	}
	go l.sweepLoop()
	return l
}

func (l *LocalLimiter) Allow(ctx context.Context, category, key string) (bool, error) {
	bucketKey := category + ":" + key
	rule, ok := l.rules[category]
	if !ok {
		rule = l.fallback
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.buckets[bucketKey]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(rule.RPM)/60.0), rule.Burst)
		l.buckets[bucketKey] = limiter
	}
	l.lastSeen[bucketKey] = time.Now()
	return limiter.Allow(), nil
}

// sweepLoop evicts buckets untouched for 10 minutes, bounding memory
// without resetting active clients' history.
func (l *LocalLimiter) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		l.mu.Lock()
		for key, seen := range l.lastSeen {
			if seen.Before(cutoff) {
				delete(l.buckets, key)
				delete(l.lastSeen, key)
			}
		}
		l.mu.Unlock()
	}
}

// RedisLimiter implements a fixed-window counter in Redis so multiple API
// replicas share one budget per key. It's the distributed counterpart to
// LocalLimiter, not a drop-in token bucket — bursts at a window boundary
// are accepted, which is an acceptable trade for the simplicity of INCR +
// EXPIRE over a Lua-scripted sliding window.
type RedisLimiter struct {
	client *redis.Client
	rules  map[string]Rule
	fallback Rule
}

func NewRedis(client *redis.Client, rules map[string]Rule, fallback Rule) *RedisLimiter {
	return &RedisLimiter{client: client, rules: rules, fallback: fallback}
}

func (l *RedisLimiter) Allow(ctx context.Context, category, key string) (bool, error) {
	rule, ok := l.rules[category]
	if !ok {
		rule = l.fallback
	}

	window := time.Now().Truncate(time.Minute).Unix()
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", category, key, window)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, 2*time.Minute).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
	}

	return count <= int64(rule.RPM), nil
}
