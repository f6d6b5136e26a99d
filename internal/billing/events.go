package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event names the service consumes.
const (
	EventCheckoutSessionCompleted   = "checkout.session.completed"
	EventSubscriptionCreated        = "customer.subscription.created"
	EventSubscriptionUpdated        = "customer.subscription.updated"
	EventSubscriptionDeleted        = "customer.subscription.deleted"
	EventSubscriptionPendingApplied = "customer.subscription.pending_update_applied"
	EventSubscriptionPendingExpired = "customer.subscription.pending_update_expired"
	EventSubscriptionTrialWillEnd   = "customer.subscription.trial_will_end"

	webhookBodyLimit = 1024 * 1024 // 1 MiB
)

// ErrSignature is returned when a webhook payload fails signature verification.
var ErrSignature = errors.New("invalid webhook signature")

// SubscriptionEventKind distinguishes the customer.subscription.* events.
type SubscriptionEventKind string

const (
	KindCreated              SubscriptionEventKind = EventSubscriptionCreated
	KindUpdated              SubscriptionEventKind = EventSubscriptionUpdated
	KindDeleted              SubscriptionEventKind = EventSubscriptionDeleted
	KindPendingUpdateApplied SubscriptionEventKind = EventSubscriptionPendingApplied
	KindPendingUpdateExpired SubscriptionEventKind = EventSubscriptionPendingExpired
	KindTrialWillEnd         SubscriptionEventKind = EventSubscriptionTrialWillEnd
)

// Event is a verified webhook event. The concrete types are
// *CheckoutCompletedEvent, *SubscriptionEvent and *IgnoredEvent.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// EventMeta carries the envelope fields shared by every event.
type EventMeta struct {
	ID   string
	Type string
}

func (m EventMeta) Meta() EventMeta { return m }

// CheckoutCompletedEvent is checkout.session.completed.
type CheckoutCompletedEvent struct {
	EventMeta
	SessionID         string
	ClientReferenceID string
	CustomerID        string
	SubscriptionID    string
}

// SubscriptionEvent is any customer.subscription.* event the service handles.
type SubscriptionEvent struct {
	EventMeta
	Kind         SubscriptionEventKind
	Subscription Subscription
}

// IgnoredEvent is any verified event with a type the service does not handle.
type IgnoredEvent struct {
	EventMeta
}

func (*CheckoutCompletedEvent) isEvent() {}
func (*SubscriptionEvent) isEvent()      {}
func (*IgnoredEvent) isEvent()           {}

// WebhookBodyLimit is the largest webhook body the API accepts.
func WebhookBodyLimit() int64 { return webhookBodyLimit }

// ConstructEvent verifies the Stripe-Signature header over the raw payload and
// decodes the result.
func ConstructEvent(payload []byte, sigHeader, secret string) (Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", ErrSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return DecodeEvent(&event)
}

// DecodeEvent turns a Stripe event envelope into the typed Event for its type.
func DecodeEvent(event *stripe.Event) (Event, error) {
	meta := EventMeta{ID: event.ID, Type: string(event.Type)}
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch meta.Type {
	case EventCheckoutSessionCompleted:
		var session checkoutSessionPayload
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout.session: %w", err)
		}
		return &CheckoutCompletedEvent{
			EventMeta:         meta,
			SessionID:         session.ID,
			ClientReferenceID: strings.TrimSpace(session.ClientReferenceID),
			CustomerID:        expandableID(session.Customer),
			SubscriptionID:    expandableID(session.Subscription),
		}, nil

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventSubscriptionPendingApplied, EventSubscriptionPendingExpired, EventSubscriptionTrialWillEnd:
		var sub subscriptionPayload
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("decode subscription: missing id")
		}
		return &SubscriptionEvent{
			EventMeta:    meta,
			Kind:         SubscriptionEventKind(meta.Type),
			Subscription: sub.toSubscription(),
		}, nil

	default:
		return &IgnoredEvent{EventMeta: meta}, nil
	}
}

type checkoutSessionPayload struct {
	ID                string          `json:"id"`
	ClientReferenceID string          `json:"client_reference_id"`
	Customer          json.RawMessage `json:"customer"`
	Subscription      json.RawMessage `json:"subscription"`
}

type subscriptionPayload struct {
	ID                string          `json:"id"`
	Customer          json.RawMessage `json:"customer"`
	Status            string          `json:"status"`
	CancelAtPeriodEnd bool            `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64           `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p subscriptionPayload) toSubscription() Subscription {
	sub := Subscription{
		ID:                p.ID,
		CustomerID:        expandableID(p.Customer),
		Status:            p.Status,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
	}
	periodEnd := p.CurrentPeriodEnd
	for _, item := range p.Items.Data {
		if sub.PriceID == "" {
			sub.PriceID = item.Price.ID
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	if periodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	return sub
}

// expandableID reads a Stripe field that is either an id string or an
// expanded object carrying an "id".
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}
