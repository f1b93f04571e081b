package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/open-apime/crmhub/internal/pkg/ratelimiter/memory"
)

func TestRateLimit_PerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := memory.NewLimiter()
	defer limiter.Close()

	r := gin.New()
	r.Use(RateLimit(RateLimitOption{Enabled: true, Requests: 2, Window: time.Minute, Limiter: limiter}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	call := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, call("a").Code)
	assert.Equal(t, http.StatusNoContent, call("a").Code)
	blocked := call("a")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "2", blocked.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))

	// cada token tem sua própria janela; requisições sem token seguem para o Auth
	assert.Equal(t, http.StatusNoContent, call("b").Code)
	assert.Equal(t, http.StatusNoContent, call("").Code)
}

func TestIPRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := memory.NewLimiter()
	defer limiter.Close()

	r := gin.New()
	r.Use(IPRateLimit(IPRateLimitOption{Enabled: true, Requests: 1, WindowSeconds: 60, Limiter: limiter, SkipPrivateIPs: true}))
	r.POST("/webhooks/messaging", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/messaging", nil)
		req.Header.Set("X-Forwarded-For", ip)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("203.0.113.10"))
	assert.Equal(t, http.StatusTooManyRequests, call("203.0.113.10"))
	assert.Equal(t, http.StatusOK, call("203.0.113.11"))

	assert.Equal(t, http.StatusOK, call("10.0.0.5"))
	assert.Equal(t, http.StatusOK, call("10.0.0.5"))
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(RateLimitOption{}), IPRateLimit(IPRateLimitOption{}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for range 5 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
