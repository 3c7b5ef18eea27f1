package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/buildbid/docproc-service/internal/api/dto"
	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/gin-gonic/gin"
)

const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeRetryExhausted    = "RETRY_EXHAUSTED"
	CodeInternal          = "INTERNAL_ERROR"
	CodeUnavailable       = "SERVICE_UNAVAILABLE"
)

// AbortWithError writes the error body and stops the handler chain
func AbortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: c.GetString(RequestIDKey),
	})
}

// respondError maps a service error to a status code. Unknown errors are logged and hidden.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var transition *domain.TransitionError
	switch {
	case errors.As(err, &transition):
		AbortWithError(c, http.StatusBadRequest, CodeInvalidTransition, transition.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		AbortWithError(c, http.StatusBadRequest, CodeInvalidTransition, err.Error())
	case errors.Is(err, domain.ErrRetryExhausted):
		AbortWithError(c, http.StatusBadRequest, CodeRetryExhausted, err.Error())
	case errors.Is(err, domain.ErrValidation):
		AbortWithError(c, http.StatusBadRequest, CodeBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		AbortWithError(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		AbortWithError(c, http.StatusConflict, CodeConflict, err.Error())
	default:
		logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.String("request_id", c.GetString(RequestIDKey)),
			slog.String("error", err.Error()),
		)
		AbortWithError(c, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}
