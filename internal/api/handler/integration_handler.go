package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/pkg/response"
	"github.com/open-apime/crmhub/internal/provider/factory"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/model"
	"github.com/open-apime/crmhub/internal/webhook"
)

// IntegrationHandler cadastra as integrações e emite as URLs de webhook
// por tenant.
type IntegrationHandler struct {
	repo    storage.IntegrationRepository
	factory *factory.Factory
	tokens  *webhook.Tokens
	baseURL string
	log     *zap.Logger
}

func NewIntegrationHandler(repo storage.IntegrationRepository, f *factory.Factory, tokens *webhook.Tokens, baseURL string, log *zap.Logger) *IntegrationHandler {
	return &IntegrationHandler{
		repo:    repo,
		factory: f,
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

func (h *IntegrationHandler) Register(r gin.IRouter) {
	r.GET("/integrations", h.list)
	r.POST("/integrations", h.create)
	r.GET("/integrations/:id", h.get)
	r.POST("/integrations/:id/webhook-token", h.rotateWebhookToken)
}

type createIntegrationRequest struct {
	TenantID    string             `json:"tenantId" binding:"required"`
	Channel     model.Channel      `json:"channel" binding:"required"`
	Provider    model.ProviderType `json:"provider" binding:"required"`
	Credentials map[string]string  `json:"credentials" binding:"required"`
	Config      map[string]any     `json:"config"`
}

func (h *IntegrationHandler) create(c *gin.Context) {
	var req createIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}
	if !req.Channel.Valid() {
		response.ErrorWithMessage(c, http.StatusBadRequest, "canal inválido: "+string(req.Channel))
		return
	}

	integration := model.Integration{
		TenantID:    req.TenantID,
		Channel:     req.Channel,
		Provider:    req.Provider,
		Credentials: req.Credentials,
		Config:      req.Config,
		Status:      model.IntegrationStatusActive,
		IsActive:    true,
	}
	// credenciais incompletas falham aqui, não no primeiro webhook
	if _, err := h.factory.ForIntegration(integration); err != nil {
		respondError(c, err)
		return
	}

	created, err := h.repo.Create(c.Request.Context(), integration)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	h.log.Info("integração criada",
		zap.String("integration_id", created.ID),
		zap.String("tenant_id", created.TenantID),
		zap.String("provider", string(created.Provider)),
	)
	response.Success(c, http.StatusCreated, created)
}

func (h *IntegrationHandler) list(c *gin.Context) {
	list, err := h.repo.ListActive(c.Request.Context(), model.Channel(c.Query("channel")))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	if tenantID := c.Query("tenantId"); tenantID != "" {
		filtered := list[:0]
		for _, in := range list {
			if in.TenantID == tenantID {
				filtered = append(filtered, in)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []model.Integration{}
	}
	response.Success(c, http.StatusOK, list)
}

func (h *IntegrationHandler) get(c *gin.Context) {
	integration, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.ErrorWithMessage(c, http.StatusNotFound, "integração não encontrada")
			return
		}
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, integration)
}

// rotateWebhookToken emite um novo token e o grava na integração, o que
// revoga a URL anterior.
func (h *IntegrationHandler) rotateWebhookToken(c *gin.Context) {
	ctx := c.Request.Context()
	integration, err := h.repo.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.ErrorWithMessage(c, http.StatusNotFound, "integração não encontrada")
			return
		}
		response.Error(c, http.StatusInternalServerError, err)
		return
	}

	token, err := h.tokens.Mint(integration)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	integration.WebhookToken = token
	if _, err := h.repo.Update(ctx, integration); err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}

	h.log.Info("token de webhook rotacionado",
		zap.String("integration_id", integration.ID),
		zap.String("tenant_id", integration.TenantID),
	)
	response.Success(c, http.StatusOK, gin.H{
		"token":      token,
		"webhookUrl": h.baseURL + "/webhooks/t/" + token,
	})
}
