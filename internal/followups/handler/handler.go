// Package handler exposes the follow-up orchestrator and dispatcher over HTTP.
package handler

import (
	"net/http"

	"crewcommand_backend/internal/followups/service"
	"crewcommand_backend/internal/followups/transport"
	"crewcommand_backend/platform/httpkit"
	"crewcommand_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const msgInvalidRequest = "invalid request body"

// Handler handles follow-up HTTP requests.
type Handler struct {
	orchestrator *service.Orchestrator
	dispatcher   *service.Dispatcher
	val          *validator.Validator
}

// New creates a new follow-up handler.
func New(orchestrator *service.Orchestrator, dispatcher *service.Dispatcher, val *validator.Validator) *Handler {
	return &Handler{orchestrator: orchestrator, dispatcher: dispatcher, val: val}
}

// EstimateSent moves a lead to estimate_sent and schedules its follow-ups.
// POST /api/v1/leads/estimate-sent
func (h *Handler) EstimateSent(c *gin.Context) {
	var req transport.EstimateSentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid_request", msgInvalidRequest)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	result, err := h.orchestrator.MarkEstimateSent(c.Request.Context(), service.Actor{
		TenantID:  identity.TenantID(),
		ProfileID: identity.ProfileID(),
	}, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Dispatch runs one dispatcher batch. Callers authenticate with the shared
// dispatcher secret.
// POST /api/v1/followups/dispatch
func (h *Handler) Dispatch(c *gin.Context) {
	stats, err := h.dispatcher.Run(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}
