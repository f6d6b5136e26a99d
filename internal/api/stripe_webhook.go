package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"subscription-api/internal/billing"
	"subscription-api/internal/metrics"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// StripeWebhook verifies and applies a Stripe event
// POST /api/webhook
func (h *Handler) StripeWebhook(c *gin.Context) {
	start := time.Now()
	eventType := "unknown"
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, billing.WebhookBodyLimit()))
	if err != nil {
		logging.Errorf("Failed to read webhook body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	event, err := billing.ConstructEvent(body, c.GetHeader("Stripe-Signature"), h.WebhookSecret)
	if err != nil {
		if errors.Is(err, billing.ErrSignature) {
			logging.Warnf("Webhook signature verification failed: %v", err)
		} else {
			logging.Errorf("Webhook payload could not be decoded: %v", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook handler failed"})
		return
	}

	meta := event.Meta()
	eventType = meta.Type
	logging.Infof("Event received - event_id: %s, type: %s", meta.ID, meta.Type)

	outcome, err := h.Reconciler.HandleEvent(c.Request.Context(), event)
	if err != nil {
		logging.Errorf("Webhook error - event_id: %s, type: %s, error: %v", meta.ID, meta.Type, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook handler failed"})
		return
	}
	metrics.WebhookOutcomesTotal.WithLabelValues(string(outcome)).Inc()

	if outcome == services.OutcomeBlocked {
		c.JSON(http.StatusOK, gin.H{
			"status":  "blocked",
			"message": "Customer already has an active subscription",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
