package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/pkg/ratelimiter"
)

type IPRateLimitOption struct {
	Enabled        bool
	Requests       int
	WindowSeconds  int
	Limiter        ratelimiter.Limiter
	Logger         *zap.Logger
	SkipPrivateIPs bool
	// Prefix separa os contadores por superfície (ex.: webhooks).
	Prefix string
}

// IPRateLimit protege o ingress público de webhooks contra inundação por
// origem. Provedores reenviam ao receber 429, então nada se perde.
func IPRateLimit(opts IPRateLimitOption) gin.HandlerFunc {
	if !opts.Enabled || opts.Limiter == nil || opts.Requests <= 0 || opts.WindowSeconds <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	window := time.Duration(opts.WindowSeconds) * time.Second
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "ratelimit:ip"
	}

	return func(c *gin.Context) {
		clientIP := GetClientIP(c)
		if opts.SkipPrivateIPs && IsPrivateIP(clientIP) {
			c.Next()
			return
		}

		if !allow(c, opts.Limiter, prefix+":"+digest(clientIP), opts.Requests, window, opts.Logger) {
			if opts.Logger != nil {
				opts.Logger.Warn("ip rate limit: limite excedido",
					zap.String("ip", clientIP),
					zap.String("path", c.FullPath()),
				)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "muitas tentativas. tente novamente mais tarde",
			})
			return
		}
		c.Next()
	}
}
