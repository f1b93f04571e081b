package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/open-apime/crmhub/internal/pkg/response"
	"github.com/open-apime/crmhub/internal/storage"
	"github.com/open-apime/crmhub/internal/storage/model"
	"github.com/open-apime/crmhub/internal/webhook"
)

type DeadLetterHandler struct {
	repo     storage.DeadLetterRepository
	pipeline *webhook.Pipeline
}

func NewDeadLetterHandler(repo storage.DeadLetterRepository, pipeline *webhook.Pipeline) *DeadLetterHandler {
	return &DeadLetterHandler{repo: repo, pipeline: pipeline}
}

func (h *DeadLetterHandler) Register(r gin.IRouter) {
	r.GET("/dead-letters", h.list)
	r.POST("/dead-letters/:id/replay", h.replay)
}

func (h *DeadLetterHandler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	includeResolved := c.Query("all") == "true"

	letters, err := h.repo.List(c.Request.Context(), includeResolved, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	if letters == nil {
		letters = []model.DeadLetter{}
	}
	response.Success(c, http.StatusOK, letters)
}

func (h *DeadLetterHandler) replay(c *gin.Context) {
	out, err := h.pipeline.Replay(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		response.ErrorWithMessage(c, http.StatusNotFound, "dead letter não encontrada")
		return
	case errors.Is(err, webhook.ErrAlreadyResolved):
		response.Error(c, http.StatusConflict, err)
		return
	case err != nil:
		response.Error(c, http.StatusInternalServerError, err)
		return
	}

	if !out.Success {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": out.Error, "data": out})
		return
	}
	response.Success(c, http.StatusOK, out)
}
