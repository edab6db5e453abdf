package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/observability/logger"
)

const endpointReconcile = "reconcile"

// ReconcileRateLimit caps on-demand provider polls per user.
func (s *Server) ReconcileRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID := strings.TrimSpace(c.Param("user_id"))
		res, err := s.limiter.AllowReconcile(ctx, userID)
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("reconcile rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			logger.WithContext(ctx, s.log).Warn("reconcile rate limit exceeded",
				zap.String("endpoint", endpointReconcile),
				zap.Duration("retry_after", res.RetryAfter),
			)
			s.metrics.IncRateLimitDenied(endpointReconcile)

			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
