package handler

import (
	"net/http"

	"crewcommand_backend/internal/sync/service"
	"crewcommand_backend/internal/sync/transport"
	"crewcommand_backend/platform/httpkit"
	"crewcommand_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// Handler handles device sync HTTP requests.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest = "invalid request body"
	msgInvalidQuery   = "invalid query parameters"
)

// New creates a new sync handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// Push applies a batch of offline device mutations.
// POST /api/v1/sync/push
func (h *Handler) Push(c *gin.Context) {
	var req transport.PushRequest
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

	result, err := h.svc.Push(c.Request.Context(), actorOf(identity), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Pull returns the next page of the change feed.
// GET /api/v1/sync/pull?cursor=&limit=&device_id=
func (h *Handler) Pull(c *gin.Context) {
	var req transport.PullRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid_request", msgInvalidQuery)
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

	result, err := h.svc.Pull(c.Request.Context(), actorOf(identity), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func actorOf(identity httpkit.Identity) service.Actor {
	return service.Actor{TenantID: identity.TenantID(), ProfileID: identity.ProfileID()}
}
