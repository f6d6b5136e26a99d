package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/balance"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
)

// StripeProvider implements Provider using the Stripe API.
type StripeProvider struct {
	apiKey string
}

// NewStripeProvider creates a StripeProvider and installs the API key.
func NewStripeProvider(apiKey string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{apiKey: apiKey}
}

// KeyPrefix returns a masked prefix of the configured key for diagnostics.
func (p *StripeProvider) KeyPrefix() string {
	if len(p.apiKey) <= 8 {
		return "***"
	}
	return p.apiKey[:8] + "..."
}

// GetSubscription retrieves a Stripe subscription.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("billing: retrieve stripe subscription %s: %w", subscriptionID, err)
	}
	return fromStripeSubscription(sub), nil
}

// SetCancelAtPeriodEnd updates the cancel_at_period_end flag on a Stripe subscription.
func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("billing: update stripe subscription %s: %w", subscriptionID, err)
	}
	return fromStripeSubscription(sub), nil
}

// CancelSubscription cancels a Stripe subscription immediately.
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("billing: cancel stripe subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// GetCustomer retrieves a Stripe customer.
func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := customer.Get(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("billing: retrieve stripe customer %s: %w", customerID, err)
	}
	return &Customer{
		ID:       c.ID,
		Deleted:  c.Deleted,
		Metadata: c.Metadata,
	}, nil
}

// Ping retrieves the account balance, which needs a valid key and has no side effects.
func (p *StripeProvider) Ping(ctx context.Context) error {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	if _, err := balance.Get(params); err != nil {
		return fmt.Errorf("billing: stripe connectivity check: %w", err)
	}
	return nil
}

// fromStripeSubscription maps the SDK type. The billing period lives on the
// subscription items since the 2025-03-31 API version.
func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = strings.TrimSpace(sub.Customer.ID)
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if out.PriceID == "" && item.Price != nil {
				out.PriceID = item.Price.ID
			}
			if item.CurrentPeriodEnd > 0 && out.CurrentPeriodEnd.IsZero() {
				out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
			}
		}
	}
	return out
}
