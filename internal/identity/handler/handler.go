package handler

import (
	"net/http"

	"crewcommand_backend/internal/identity/service"
	"crewcommand_backend/internal/identity/transport"
	"crewcommand_backend/platform/apperr"
	"crewcommand_backend/platform/httpkit"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
	log *logger.Logger
}

const (
	msgInvalidRequest = "invalid request body"
	msgProfileMissing = "No profile exists for this user; call /auth/bootstrap first."
)

func New(svc *service.Service, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{svc: svc, val: val, log: log}
}

// Bootstrap creates the caller's workspace.
// POST /api/v1/auth/bootstrap
func (h *Handler) Bootstrap(c *gin.Context) {
	userID, ok := httpkit.GetUserID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	var req transport.BootstrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid_request", msgInvalidRequest)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	email, fullName := httpkit.GetTokenProfile(c)
	result, err := h.svc.Bootstrap(c.Request.Context(), service.Caller{
		UserID:   userID,
		Email:    email,
		FullName: fullName,
	}, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// RegisterDevice registers a device for the calling profile.
// POST /api/v1/devices
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req transport.RegisterDeviceRequest
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

	result, err := h.svc.RegisterDevice(c.Request.Context(), identity.TenantID(), identity.ProfileID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

// ResolveProfile loads the caller's profile into the request context.
// Requests from users without a profile are rejected with profile_missing.
func (h *Handler) ResolveProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := httpkit.GetUserID(c)
		if !ok {
			httpkit.Abort(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		profile, err := h.svc.ResolveProfile(c.Request.Context(), userID)
		if apperr.Is(err, apperr.KindNotFound) {
			h.log.AuthEvent("profile_missing", userID.String(), false, "no profile")
			httpkit.Abort(c, http.StatusForbidden, "profile_missing", msgProfileMissing)
			return
		}
		if err != nil {
			httpkit.HandleError(c, err)
			c.Abort()
			return
		}

		httpkit.SetProfile(c, profile.ID, profile.OrganizationID, profile.Role)
		c.Next()
	}
}
