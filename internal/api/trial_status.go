package api

import (
	"net/http"
	"strings"

	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// GetTrialStatus reports the user's trial, starting it on first call
// GET /api/trial/status?userId=xxx
func (h *Handler) GetTrialStatus(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "User ID is required")
		return
	}

	status, err := h.Trials.Status(c.Request.Context(), userID)
	if err != nil {
		logging.Errorf("Trial status failed - user: %s, error: %v", userID, err)
		response.ErrorWithDetails(c, http.StatusInternalServerError, "Failed to get trial status", err)
		return
	}

	c.JSON(http.StatusOK, status)
}
