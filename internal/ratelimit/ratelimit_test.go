package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_BurstThenThrottle(t *testing.T) {
	l := NewLocal(map[string]Rule{"login": {RPM: 60, Burst: 3}}, Rule{RPM: 60, Burst: 10})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "login", "tenant1:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst must be admitted", i)
	}
	ok, err := l.Allow(ctx, "login", "tenant1:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok, "request beyond burst must be throttled")
}

func TestLocal_KeysAreIndependent(t *testing.T) {
	l := NewLocal(map[string]Rule{"login": {RPM: 60, Burst: 1}}, Rule{RPM: 60, Burst: 10})
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "login", "tenant1:alice")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "login", "tenant1:alice")
	assert.False(t, ok)

	// A different subject key under the same category gets its own bucket.
	ok, _ = l.Allow(ctx, "login", "tenant1:bob")
	assert.True(t, ok)
	// As does the same subject under a different category.
	ok, _ = l.Allow(ctx, "api", "tenant1:alice")
	assert.True(t, ok)
}

func TestLocal_UnknownCategoryUsesFallback(t *testing.T) {
	l := NewLocal(map[string]Rule{}, Rule{RPM: 60, Burst: 2})
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "unconfigured", "key")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "unconfigured", "key")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "unconfigured", "key")
	assert.False(t, ok)
}

func TestRedis_FixedWindowCounts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedis(client, map[string]Rule{"login": {RPM: 2, Burst: 2}}, Rule{RPM: 60, Burst: 10})
	ctx := context.Background()

	ok, err := l.Allow(ctx, "login", "tenant1:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Allow(ctx, "login", "tenant1:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Allow(ctx, "login", "tenant1:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok, "third request in the window must exceed rpm=2")
}

func TestRedis_SeparateKeysSeparateBudgets(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedis(client, map[string]Rule{"login": {RPM: 1, Burst: 1}}, Rule{RPM: 60, Burst: 10})
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "login", "tenantA:ip1")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "login", "tenantB:ip1")
	assert.True(t, ok, "tenants must not share a budget")
}
