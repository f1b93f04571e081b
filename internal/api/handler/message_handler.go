package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/crmhub/internal/pkg/response"
	"github.com/open-apime/crmhub/internal/provider"
	messageSvc "github.com/open-apime/crmhub/internal/service/message"
	"github.com/open-apime/crmhub/internal/storage/model"
)

type MessageHandler struct {
	service *messageSvc.Service
}

func NewMessageHandler(service *messageSvc.Service) *MessageHandler {
	return &MessageHandler{service: service}
}

func (h *MessageHandler) Register(r gin.IRouter) {
	r.POST("/tenants/:tenantId/channels/:channel/messages", h.send)
	r.POST("/tenants/:tenantId/channels/:channel/messages/:externalId/read", h.markRead)
	r.GET("/tenants/:tenantId/channels/:channel/health", h.health)
	r.GET("/tenants/:tenantId/channels/:channel/conversations", h.conversations)
	r.GET("/tenants/:tenantId/conversations/:conversationId/messages", h.history)
}

func (h *MessageHandler) send(c *gin.Context) {
	channel, ok := channelParam(c)
	if !ok {
		return
	}
	var req provider.SendPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	res, err := h.service.Send(c.Request.Context(), c.Param("tenantId"), channel, req)
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": res.Error, "data": res})
		return
	}
	response.Success(c, http.StatusOK, res)
}

type markReadRequest struct {
	ExternalContactID string `json:"externalContactId"`
}

func (h *MessageHandler) markRead(c *gin.Context) {
	channel, ok := channelParam(c)
	if !ok {
		return
	}
	var req markReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, err)
			return
		}
	}

	err := h.service.MarkAsRead(c.Request.Context(), c.Param("tenantId"), channel, c.Param("externalId"), req.ExternalContactID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"read": true})
}

func (h *MessageHandler) health(c *gin.Context) {
	channel, ok := channelParam(c)
	if !ok {
		return
	}
	st, err := h.service.Status(c.Request.Context(), c.Param("tenantId"), channel)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, st)
}

func (h *MessageHandler) conversations(c *gin.Context) {
	channel, ok := channelParam(c)
	if !ok {
		return
	}
	list, err := h.service.Conversations(c.Request.Context(), c.Param("tenantId"), channel, c.Query("contact"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, list)
}

func (h *MessageHandler) history(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.service.History(c.Request.Context(), c.Param("tenantId"), c.Param("conversationId"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, list)
}

func channelParam(c *gin.Context) (model.Channel, bool) {
	channel := model.Channel(c.Param("channel"))
	if !channel.Valid() {
		response.ErrorWithMessage(c, http.StatusBadRequest, "canal inválido: "+string(channel))
		return "", false
	}
	return channel, true
}

// respondError traduz os erros de serviço e de provedor para HTTP.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messageSvc.ErrInvalidPayload), errors.Is(err, messageSvc.ErrUnsupportedMediaType):
		response.Error(c, http.StatusBadRequest, err)
	case errors.Is(err, model.ErrNotFound):
		response.Error(c, http.StatusNotFound, err)
	default:
		response.Error(c, provider.HTTPStatus(err), err)
	}
}
