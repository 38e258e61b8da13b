package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/guildgate/internal/observability/context"
	"github.com/smallbiznis/guildgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/guildgate/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	rateLimitReasonGuildRate = "guild-rate"
	// maxPeekBody caps a dispatch call's JSON body; larger bodies are rejected.
	maxPeekBody = 64 << 10
)

type guildRateLimitKey struct {
	GuildID string `json:"guild_id"`
}

// GuildRateLimit applies the per-guild token bucket to command-dispatch calls.
// Limiter outages fail closed with 503.
func (s *Server) GuildRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		guildID, err := readGuildID(c)
		if err != nil {
			if !errors.Is(err, ErrPayloadTooLarge) {
				logger.FromContext(c.Request.Context()).Warn("rate limit read body failed", zap.Error(err))
				err = invalidRequestError()
			}
			AbortWithError(c, err)
			return
		}
		if guildID == "" {
			c.Next()
			return
		}

		ctx := obscontext.WithGuildID(c.Request.Context(), guildID)
		c.Request = c.Request.WithContext(ctx)
		endpoint := normalizeRateLimitEndpoint(c)

		res, err := s.limiter.Allow(ctx, guildID)
		if err != nil {
			logger.FromContext(ctx).Warn("guild rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			denyGuildRateLimit(c, endpoint, rateLimitReasonGuildRate, retryAfter, s.obsMetrics)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func denyGuildRateLimit(c *gin.Context, endpoint, reason string, retryAfter int, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("guild rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, reason, metrics)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

// readGuildID finds the tenant of a dispatch call in the path, the query string or the
// JSON body, in that order. The body is restored for the handler.
func readGuildID(c *gin.Context) (string, error) {
	if guildID := strings.TrimSpace(c.Param("guildId")); guildID != "" {
		return guildID, nil
	}
	if guildID := strings.TrimSpace(c.Query("guild_id")); guildID != "" {
		return guildID, nil
	}
	if c.Request.Body == nil {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeekBody+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxPeekBody {
		return "", ErrPayloadTooLarge
	}
	rest := c.Request.Body
	c.Request.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(body), rest), Closer: rest}
	if len(body) == 0 {
		return "", nil
	}

	var payload guildRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.GuildID), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
