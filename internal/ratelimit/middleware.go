package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "chat4all/pkg/errors"
)

// Middleware rejects requests whose sender exceeded their budget with 429
// and a Retry-After hint. The sender is taken from the request body by the
// handler, so the middleware reads the authenticated subject header set by
// the edge proxy and falls back to the client IP.
func Middleware(limiter *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		senderID := c.GetHeader("X-User-ID")
		if senderID == "" {
			senderID = c.ClientIP()
		}

		decision := limiter.Allow(c.Request.Context(), senderID)
		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("X-RateLimit-Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				apperrors.ToErrorResponse(apperrors.ErrTooManyRequests))
			return
		}
		c.Next()
	}
}
