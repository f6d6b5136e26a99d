package api

import (
	"net/http"
	"strings"

	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// ReactivateUserRequest is the body of POST /api/user/reactivate.
type ReactivateUserRequest struct {
	UserID string `json:"userId"`
}

// ReactivateUser restores a soft-deleted account on sign-in
// POST /api/user/reactivate {"userId": "xxx"}
func (h *Handler) ReactivateUser(c *gin.Context) {
	var req ReactivateUserRequest
	_ = c.ShouldBindJSON(&req)
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "User ID is required")
		return
	}

	reactivated, err := h.Users.Reactivate(c.Request.Context(), userID)
	if err != nil {
		logging.Errorf("Account reactivation failed - user: %s, error: %v", userID, err)
		response.ErrorWithDetails(c, http.StatusInternalServerError, "Failed to reactivate account", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "reactivated": reactivated})
}
