package api

import (
	"net/http"

	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// ReactivateSubscription clears a scheduled cancellation
// POST /api/subscription/reactivate {"subscriptionId": "sub_..."}
func (h *Handler) ReactivateSubscription(c *gin.Context) {
	subscriptionID, ok := bindSubscriptionID(c)
	if !ok {
		return
	}

	sub, err := h.Reconciler.Reactivate(c.Request.Context(), subscriptionID)
	if err != nil {
		logging.Errorf("Subscription reactivation failed - subscription: %s, error: %v", subscriptionID, err)
		response.ErrorWithDetails(c, http.StatusInternalServerError, "Failed to reactivate subscription", err)
		return
	}

	response.Success(c, gin.H{"subscription": sub})
}
