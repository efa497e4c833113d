// Package httpkit provides HTTP response utilities.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"errors"
	"net/http"

	"crewcommand_backend/platform/apperr"
	"crewcommand_backend/platform/monitoring"
	"crewcommand_backend/platform/validator"

	"github.com/gin-gonic/gin"
	govalidator "github.com/go-playground/validator/v10"
)

// ErrorBody is the machine-readable error carried by a failed envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse is the envelope for successful responses.
type SuccessResponse struct {
	OK   bool        `json:"ok"`
	Data interface{} `json:"data"`
}

// ErrorResponse is the envelope for failed responses.
type ErrorResponse struct {
	OK    bool      `json:"ok"`
	Error ErrorBody `json:"error"`
}

// JSON sends data wrapped in a success envelope with the given status.
func JSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{OK: true, Data: data})
}

// OK sends a 200 OK success envelope.
func OK(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data)
}

// Error sends a failure envelope.
func Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// Abort sends a failure envelope and stops the handler chain.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// HandleError maps domain errors to HTTP responses.
// Typed *apperr.Error values use their Kind and Code; validator errors become
// 400 invalid_request; anything else is an internal error that is reported to
// error tracking and rendered without its details.
// Returns true if an error was handled, false otherwise.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		status := domainErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			reportInternal(c, err)
			Error(c, status, domainErr.ErrorCode(), "internal server error")
			return true
		}
		Error(c, status, domainErr.ErrorCode(), domainErr.Message)
		return true
	}

	var validationErrs govalidator.ValidationErrors
	if errors.As(err, &validationErrs) {
		Error(c, http.StatusBadRequest, "invalid_request", validator.Describe(err))
		return true
	}

	reportInternal(c, err)
	Error(c, http.StatusInternalServerError, "internal_error", "internal server error")
	return true
}

func reportInternal(c *gin.Context, err error) {
	_ = c.Error(err)
	tags := map[string]string{
		"route":  c.FullPath(),
		"method": c.Request.Method,
	}
	if id := GetIdentity(c); id.IsAuthenticated() {
		tags["tenant_id"] = id.TenantID().String()
	}
	monitoring.CaptureError(c.Request.Context(), err, tags)
}

// NotFoundHandler renders unmatched routes in the error envelope.
func NotFoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		Error(c, http.StatusNotFound, "not_found", "route not found")
	}
}

// MethodNotAllowedHandler renders 405 responses in the error envelope.
func MethodNotAllowedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		Error(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// Recovery converts panics into an internal error envelope.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(error); ok {
			monitoring.CaptureError(c.Request.Context(), err, map[string]string{"route": c.FullPath()})
		}
		Abort(c, http.StatusInternalServerError, "internal_error", "internal server error")
	})
}
