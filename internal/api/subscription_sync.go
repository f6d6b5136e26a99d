package api

import (
	"net/http"

	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// SyncSubscription pulls the provider state into the local table
// POST /api/subscription/sync {"subscriptionId": "sub_..."}
func (h *Handler) SyncSubscription(c *gin.Context) {
	subscriptionID, ok := bindSubscriptionID(c)
	if !ok {
		return
	}

	if err := h.Reconciler.Sync(c.Request.Context(), subscriptionID); err != nil {
		logging.Errorf("Subscription sync failed - subscription: %s, error: %v", subscriptionID, err)
		response.ErrorWithDetails(c, http.StatusInternalServerError, "Failed to sync subscription", err)
		return
	}

	response.Success(c, nil)
}
