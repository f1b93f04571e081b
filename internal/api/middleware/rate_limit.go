package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/pkg/ratelimiter"
)

// RateLimitOption limita as chamadas da API por bearer token, para que um
// único serviço do CRM não esgote a cota de envio dos provedores.
type RateLimitOption struct {
	Enabled  bool
	Requests int
	Window   time.Duration
	Prefix   string
	Limiter  ratelimiter.Limiter
	Logger   *zap.Logger
}

// RateLimit roda antes do Auth: tokens inválidos também consomem cota.
// Requisições sem bearer seguem adiante e são recusadas pelo Auth.
func RateLimit(opts RateLimitOption) gin.HandlerFunc {
	if !opts.Enabled || opts.Limiter == nil || opts.Requests <= 0 || opts.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "ratelimit:api"
	}

	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}
		key := prefix + ":" + digest(token)
		if !allow(c, opts.Limiter, key, opts.Requests, opts.Window, opts.Logger) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "limite de requisições excedido",
			})
			return
		}
		c.Next()
	}
}

// allow consulta o limiter e escreve os cabeçalhos X-RateLimit-*. Falha do
// limiter libera a requisição.
func allow(c *gin.Context, limiter ratelimiter.Limiter, key string, limit int, window time.Duration, log *zap.Logger) bool {
	res, err := limiter.Allow(c.Request.Context(), key, limit, window)
	if err != nil {
		if log != nil {
			log.Warn("rate limit: limiter indisponível", zap.Error(err))
		}
		return true
	}

	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
	}
	return res.Allowed
}

func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// digest evita guardar tokens e IPs em claro nas chaves do Redis.
func digest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:16])
}
