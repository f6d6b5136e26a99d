package api

import (
	"errors"
	"net/http"
	"strings"

	"subscription-api/internal/response"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// DeleteUser soft-deletes an account and cancels its subscriptions
// DELETE /api/user/delete?userId=xxx
func (h *Handler) DeleteUser(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "User ID is required")
		return
	}

	if err := h.Reconciler.DeleteAccount(c.Request.Context(), userID); err != nil {
		logging.Errorf("Account soft-deletion failed - user: %s, error: %v", userID, err)
		message := "Failed to process account deletion"
		if errors.Is(err, services.ErrAccountUpdate) {
			message = "Failed to update profile"
		}
		response.ErrorWithDetails(c, http.StatusInternalServerError, message, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
