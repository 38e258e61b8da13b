package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/guildgate/internal/config"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockerSingleHolder(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, locker.Release(ctx, "lock:test", "someone-else"))
	require.True(t, mr.Exists("lock:test"))

	require.NoError(t, locker.Release(ctx, "lock:test", token))
	require.False(t, mr.Exists("lock:test"))

	_, ok, err = locker.TryLock(ctx, "lock:test", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockerExpires(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "lock:test", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "lock:test", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockerRejectsBadInput(t *testing.T) {
	_, client := newRedis(t)
	locker := NewLocker(client)

	_, _, err := locker.TryLock(context.Background(), "", time.Second)
	require.ErrorIs(t, err, ErrLockKeyEmpty)
	_, _, err = locker.TryLock(context.Background(), "k", 0)
	require.ErrorIs(t, err, ErrLockTTL)
}

func TestTokenBucketExhaustsBurst(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, "ratelimit:guild:g1", 0.001, 2)
		require.NoError(t, err)
		require.True(t, res.Allowed, "call %d", i+1)
	}

	res, err := bucket.Allow(ctx, "ratelimit:guild:g1", 0.001, 2)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 2, res.Limit)
	require.Positive(t, res.RetryAfter)

	other, err := bucket.Allow(ctx, "ratelimit:guild:g2", 0.001, 2)
	require.NoError(t, err)
	require.True(t, other.Allowed)
}

func TestGuildLimiterDisabled(t *testing.T) {
	_, client := newRedis(t)
	cfg := config.DefaultMeteringConfig()
	cfg.RateLimitEnabled = false
	limiter := NewGuildLimiter(NewTokenBucket(client), config.StaticMeteringConfig(cfg))

	for i := 0; i < 100; i++ {
		res, err := limiter.Allow(context.Background(), "g1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}

func TestGuildLimiterUsesGuildKey(t *testing.T) {
	mr, client := newRedis(t)
	cfg := config.DefaultMeteringConfig()
	cfg.RateLimitRate = 0.001
	cfg.RateLimitBurst = 1
	limiter := NewGuildLimiter(NewTokenBucket(client), config.StaticMeteringConfig(cfg))

	res, err := limiter.Allow(context.Background(), "g1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.True(t, mr.Exists("ratelimit:guild:g1"))

	res, err = limiter.Allow(context.Background(), "g1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
}
