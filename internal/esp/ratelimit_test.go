package esp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisLimiter_PerMinute(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	l := NewRedisLimiter(rdb, 2)
	fixed := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "ses")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "ses")
	require.NoError(t, err)
	assert.False(t, ok)

	// other providers have their own budget
	ok, err = l.Allow(ctx, "mailgun")
	require.NoError(t, err)
	assert.True(t, ok)

	// next minute starts fresh
	fixed = fixed.Add(time.Minute)
	ok, err = l.Allow(ctx, "ses")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_Unlimited(t *testing.T) {
	l := NewRedisLimiter(nil, 0)
	for i := 0; i < 5; i++ {
		ok, err := l.Allow(context.Background(), "ses")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestRedisLimiter_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, err := NewRedisLimiter(rdb, 10).Allow(context.Background(), "ses")
	assert.Error(t, err)
}
