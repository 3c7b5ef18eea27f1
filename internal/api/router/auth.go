package router

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/buildbid/docproc-service/internal/api/handler"
	"github.com/buildbid/docproc-service/internal/jobs/domain"
	"github.com/buildbid/docproc-service/internal/jobs/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const InternalTokenHeader = "X-Internal-Token"

// RequireAuth validates the bearer token and stores the caller's user id in the context
func RequireAuth(tokens handler.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handler.AbortWithError(c, http.StatusUnauthorized, handler.CodeUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			handler.AbortWithError(c, http.StatusUnauthorized, handler.CodeUnauthorized, "Invalid authorization format. Use: Bearer <token>")
			return
		}

		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			handler.AbortWithError(c, http.StatusUnauthorized, handler.CodeUnauthorized, "Invalid or expired token")
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			handler.AbortWithError(c, http.StatusUnauthorized, handler.CodeUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(handler.UserIDKey, userID)
		c.Next()
	}
}

// RequireProjectOwner rejects callers that do not own :project_id
func RequireProjectOwner(owners storage.OwnerLookup, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("project_id")
		if _, err := uuid.Parse(projectID); err != nil {
			handler.AbortWithError(c, http.StatusBadRequest, handler.CodeBadRequest, "project_id must be a valid UUID")
			return
		}

		owner, err := owners.ProjectOwner(c.Request.Context(), projectID)
		if errors.Is(err, domain.ErrProjectNotFound) {
			handler.AbortWithError(c, http.StatusNotFound, handler.CodeNotFound, err.Error())
			return
		}
		if err != nil {
			logger.Error("Project ownership lookup failed",
				slog.String("project_id", projectID),
				slog.String("request_id", c.GetString(handler.RequestIDKey)),
				slog.Any("error", err),
			)
			handler.AbortWithError(c, http.StatusInternalServerError, handler.CodeInternal, "Internal server error")
			return
		}

		if owner != c.GetString(handler.UserIDKey) {
			handler.AbortWithError(c, http.StatusForbidden, handler.CodeForbidden, "You do not have access to this project")
			return
		}

		c.Next()
	}
}

// RequireInternalToken guards the worker write-back routes with a shared secret
func RequireInternalToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(InternalTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			handler.AbortWithError(c, http.StatusUnauthorized, handler.CodeUnauthorized, "Invalid internal token")
			return
		}
		c.Next()
	}
}
