package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fixwork_backend/internal/middleware"
	"fixwork_backend/pkg/apperrors"
)

// BaseHandler carries the helpers shared by every HTTP handler.
type BaseHandler struct{}

func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds the request body and reports binding failures in the
// standard error envelope. Returns false when the handler should stop.
func (h *BaseHandler) BindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		apperrors.HandleValidationError(c, err)
		return false
	}
	return true
}

// BindQuery binds query parameters the same way.
func (h *BaseHandler) BindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		apperrors.HandleValidationError(c, err)
		return false
	}
	return true
}

// CurrentUserID returns the authenticated user, aborting with 401 when
// the auth middleware did not run.
func (h *BaseHandler) CurrentUserID(c *gin.Context) (string, bool) {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return "", false
	}
	return userID, true
}
