package billing

import (
	"context"
	"time"
)

// Subscription is the provider's authoritative view of a subscription,
// reduced to the fields the local mirror stores.
type Subscription struct {
	ID                string    `json:"id"`
	CustomerID        string    `json:"customer"`
	Status            string    `json:"status"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	PriceID           string    `json:"price_id,omitempty"`
}

// Customer is a provider customer record.
type Customer struct {
	ID       string
	Deleted  bool
	Metadata map[string]string
}

// UserIDMetadataKey is the customer metadata key holding the application user id.
const UserIDMetadataKey = "user_id"

// UserID returns the application user id stored on the customer, if any.
func (c *Customer) UserID() string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	return c.Metadata[UserIDMetadataKey]
}

// Provider is the subset of the billing provider API the service depends on.
type Provider interface {
	// GetSubscription retrieves the current state of a subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// SetCancelAtPeriodEnd schedules (or unschedules) a graceful cancellation.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*Subscription, error)
	// CancelSubscription cancels immediately.
	CancelSubscription(ctx context.Context, subscriptionID string) error
	// GetCustomer retrieves a customer, including deleted ones.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	// Ping checks connectivity and credentials without side effects.
	Ping(ctx context.Context) error
}
