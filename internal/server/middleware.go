package server

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/guildgate/internal/observability/context"
	"github.com/smallbiznis/guildgate/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderAdminToken = "X-Admin-Token"
	actorTypeAdmin   = "admin"
)

// AdminRequired checks the shared admin token. Without a configured token the admin
// surface stays open outside production and closed in production.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.AdminToken)
		if expected == "" {
			if s.cfg.IsProduction() {
				logger.FromContext(c.Request.Context()).Warn("admin token not configured, rejecting admin request")
				AbortWithError(c, ErrUnauthorized)
				return
			}
			c.Next()
			return
		}

		token := adminTokenFromRequest(c)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), actorTypeAdmin, "token")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func adminTokenFromRequest(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader(HeaderAdminToken)); token != "" {
		return token
	}
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequestTimeout bounds the request context handed to services.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() && len(c.Errors) == 0 {
			logger.FromContext(ctx).Warn("request deadline exceeded", zap.Duration("timeout", timeout))
			AbortWithError(c, ErrServiceUnavailable)
		}
	}
}
