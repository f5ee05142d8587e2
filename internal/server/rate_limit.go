package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit spends one token from the authenticated tenant's bucket.
// Limiter failures admit the request.
func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		tenantID, ok := tenantIDFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		endpoint := c.FullPath()

		res, err := s.limiter.Consume(ctx, tenantID.String())
		if err != nil {
			s.log.Warn("rate limiter unavailable, admitting request",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(res.ResetSeconds))

		if !res.Allowed {
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)
			AbortWithError(c, &RateLimitedError{ResetSeconds: res.ResetSeconds})
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}
