package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sebastianpando/lector-tts-app/internal/metrics"
	"github.com/sebastianpando/lector-tts-app/internal/ratelimit"
	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

// RateLimit caps requests per client. A limiter failure lets the request through.
func RateLimit(limiter ratelimit.Limiter, m *metrics.Metrics, l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ClientKey(c)
		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			l.WithError(err).WithField("client", key).Warn("rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			m.RateLimited()
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			abort(c, http.StatusTooManyRequests, utils.CodeRateLimited,
				"too many requests, retry in "+strconv.Itoa(secs)+"s")
			return
		}
		c.Next()
	}
}

// ClientKey identifies the caller by gin's ClientIP: forwarded headers count only when the
// peer is one of the engine's trusted proxies.
func ClientKey(c *gin.Context) string {
	return c.ClientIP()
}
