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

// bindSubscriptionID reads {"subscriptionId"} and answers 400 when it is missing.
func bindSubscriptionID(c *gin.Context) (string, bool) {
	var req SubscriptionRequest
	_ = c.ShouldBindJSON(&req)
	id := strings.TrimSpace(req.SubscriptionID)
	if id == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "Subscription ID is required")
		return "", false
	}
	return id, true
}

// CancelSubscription schedules cancellation at period end
// POST /api/subscription/cancel {"subscriptionId": "sub_..."}
func (h *Handler) CancelSubscription(c *gin.Context) {
	subscriptionID, ok := bindSubscriptionID(c)
	if !ok {
		return
	}

	result, err := h.Reconciler.Cancel(c.Request.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, services.ErrNotCancelable) {
			response.ErrorJSON(c, http.StatusBadRequest, "Subscription cannot be canceled in its current state")
			return
		}
		logging.Errorf("Subscription cancellation failed - subscription: %s, error: %v", subscriptionID, err)
		response.ErrorWithDetails(c, http.StatusInternalServerError, "Failed to cancel subscription", err)
		return
	}

	if result.AlreadyCanceled {
		response.Success(c, gin.H{"alreadyCanceled": true})
		return
	}
	response.Success(c, gin.H{"subscription": result.Subscription})
}
