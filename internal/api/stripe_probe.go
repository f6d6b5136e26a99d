package api

import (
	"net/http"

	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// StripeConnectionTest checks that the configured key can reach Stripe
// GET /api/stripe/test
func (h *Handler) StripeConnectionTest(c *gin.Context) {
	logging.Infof("Testing Stripe connection, key starts with: %s", h.KeyPrefix)

	if err := h.Billing.Ping(c.Request.Context()); err != nil {
		logging.Errorf("Stripe test failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Stripe connection successful",
		"keyPrefix": h.KeyPrefix,
	})
}
