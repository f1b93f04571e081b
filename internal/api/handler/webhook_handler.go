package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/provider/factory"
	"github.com/open-apime/crmhub/internal/webhook"
)

// WebhookHandler recebe os webhooks dos provedores. Depois do handshake,
// todo POST é respondido com 200 para que o provedor não reenvie.
type WebhookHandler struct {
	pipeline    *webhook.Pipeline
	resolver    *webhook.Resolver
	factory     *factory.Factory
	verifyToken string
	maxBody     int64
	log         *zap.Logger
}

type WebhookOptions struct {
	VerifyToken  string
	MaxBodyBytes int64
}

func NewWebhookHandler(pipeline *webhook.Pipeline, resolver *webhook.Resolver, f *factory.Factory, opts WebhookOptions, log *zap.Logger) *WebhookHandler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	return &WebhookHandler{
		pipeline:    pipeline,
		resolver:    resolver,
		factory:     f,
		verifyToken: opts.VerifyToken,
		maxBody:     opts.MaxBodyBytes,
		log:         log,
	}
}

func (h *WebhookHandler) Register(r gin.IRouter) {
	r.Any("/webhooks/messaging", h.shared)
	r.Any("/webhooks/t/:token", h.tenant)
}

func (h *WebhookHandler) shared(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodOptions:
		c.Status(http.StatusNoContent)
	case http.MethodGet:
		mode, token, challenge := handshake(c)
		if mode == "subscribe" && h.verifyToken != "" && equal(token, h.verifyToken) {
			c.String(http.StatusOK, challenge)
			return
		}
		h.log.Warn("webhook: handshake recusado", zap.String("mode", mode))
		c.String(http.StatusForbidden, "forbidden")
	case http.MethodPost:
		h.receive(c, "")
	default:
		c.JSON(http.StatusMethodNotAllowed, gin.H{"success": false, "error": "método não permitido"})
	}
}

func (h *WebhookHandler) tenant(c *gin.Context) {
	token := c.Param("token")

	switch c.Request.Method {
	case http.MethodOptions:
		c.Status(http.StatusNoContent)
	case http.MethodGet:
		mode, verify, challenge := handshake(c)
		if mode != "subscribe" {
			c.String(http.StatusForbidden, "forbidden")
			return
		}
		if h.resolver == nil {
			c.String(http.StatusForbidden, "forbidden")
			return
		}
		// a rota só responde ao handshake se o token pertencer a uma integração
		integration, err := h.resolver.ResolveToken(c.Request.Context(), token)
		if err != nil {
			h.log.Warn("webhook: handshake com token desconhecido", zap.Error(err))
			c.String(http.StatusForbidden, "forbidden")
			return
		}
		if h.verifyToken != "" && equal(verify, h.verifyToken) {
			c.String(http.StatusOK, challenge)
			return
		}
		if h.factory == nil {
			c.String(http.StatusForbidden, "forbidden")
			return
		}
		// o handshake acontece antes da primeira verificação de saúde
		prov, err := h.factory.Build(integration)
		if err != nil {
			c.String(http.StatusForbidden, "forbidden")
			return
		}
		if out, ok := prov.ValidateWebhook(verify, challenge); ok {
			c.String(http.StatusOK, out)
			return
		}
		c.String(http.StatusForbidden, "forbidden")
	case http.MethodPost:
		h.receive(c, token)
	default:
		c.JSON(http.StatusMethodNotAllowed, gin.H{"success": false, "error": "método não permitido"})
	}
}

func (h *WebhookHandler) receive(c *gin.Context, token string) {
	if h.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "pipeline indisponível"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		msg := "falha ao ler corpo"
		if errors.As(err, &tooLarge) {
			msg = "payload excede o limite"
		}
		h.log.Warn("webhook: corpo rejeitado", zap.Error(err))
		c.JSON(http.StatusOK, webhook.Outcome{Success: false, Error: msg})
		return
	}

	// o provedor pode desconectar antes do fim; a gravação precisa terminar
	ctx := context.WithoutCancel(c.Request.Context())
	out := h.pipeline.Process(ctx, webhook.Request{Body: body, Token: token})
	c.JSON(http.StatusOK, out)
}

func handshake(c *gin.Context) (mode, token, challenge string) {
	return c.Query("hub.mode"), c.Query("hub.verify_token"), c.Query("hub.challenge")
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
