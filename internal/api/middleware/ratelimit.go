package middleware

import (
	"log/slog"
	"net/http"

	"todovault/internal/pkg/metrics"
	"todovault/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// LoginRateLimit 限制登录类接口的请求频率，超限返回 429。
//
// limiter 为 nil 时限流关闭。限流器自身出错不拦请求，只记日志：
// Redis 抖动不应把登录一起带挂。
func LoginRateLimit(limiter *ratelimit.RateLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter error, allow request", slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.LoginRateLimitedTotal.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
