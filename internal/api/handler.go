package api

import (
	"time"

	"subscription-api/internal/billing"
	"subscription-api/internal/database"
	"subscription-api/internal/services"
)

// Handler holds the dependencies of every route.
type Handler struct {
	Reconciler    *services.SubscriptionReconciler
	Trials        *services.TrialService
	Users         *services.UserService
	Store         *database.Store
	Feed          services.ChangeFeed
	Billing       billing.Provider
	WebhookSecret string
	KeyPrefix     string
	ServiceName   string

	now func() time.Time
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// SubscriptionRequest is the body of cancel, reactivate and sync.
type SubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}
