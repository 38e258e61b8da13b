package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalSetGetDelete(t *testing.T) {
	l, err := NewLocal[string](1 << 10)
	require.NoError(t, err)
	defer l.Close()

	_, ok := l.Get("k")
	require.False(t, ok)

	require.True(t, l.Set("k", "v", 1, time.Minute))
	got, ok := l.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)

	l.Delete("k")
	_, ok = l.Get("k")
	require.False(t, ok)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "cache:guild:g1:entitlements", GuildEntitlementsKey(" g1 "))
	require.Equal(t, "cache:guild:g1:gen", GuildGenerationKey(" g1 "))
	require.Equal(t, "ratelimit:guild:g1", GuildRateLimitKey("g1"))
	require.Equal(t, "usage:*", UsageKeyPattern)
}
