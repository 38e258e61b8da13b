package ratelimit

import (
	"context"
	"strings"

	"github.com/smallbiznis/guildgate/internal/cache"
	"github.com/smallbiznis/guildgate/internal/config"
)

// GuildLimiter throttles command-dispatch calls per guild. Rate and burst follow the
// hot-reloaded metering config.
type GuildLimiter struct {
	bucket   *TokenBucket
	metering *config.MeteringConfigHolder
}

func NewGuildLimiter(bucket *TokenBucket, metering *config.MeteringConfigHolder) *GuildLimiter {
	return &GuildLimiter{bucket: bucket, metering: metering}
}

func (l *GuildLimiter) Allow(ctx context.Context, guildID string) (Result, error) {
	cfg := l.metering.Get()
	if !cfg.RateLimitEnabled {
		return Result{Allowed: true}, nil
	}
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, cache.GuildRateLimitKey(guildID), cfg.RateLimitRate, cfg.RateLimitBurst)
}
