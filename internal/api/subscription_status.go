package api

import (
	"net/http"
	"strings"

	"subscription-api/internal/database"
	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// GetSubscription returns the user's newest entitling subscription or null
// GET /api/subscription?userId=xxx
func (h *Handler) GetSubscription(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "User ID is required")
		return
	}

	subscription, err := h.Store.GetEntitledSubscription(c.Request.Context(), userID, h.clock())
	if err != nil {
		if database.IsNotFound(err) {
			c.JSON(http.StatusOK, gin.H{"subscription": nil})
			return
		}
		logging.Errorf("Subscription lookup failed - user: %s, error: %v", userID, err)
		response.ErrorWithDetails(c, http.StatusInternalServerError, "Failed to get subscription", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": subscription})
}
