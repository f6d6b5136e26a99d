package models

import (
	"time"
)

// Subscription statuses the engine reasons about. Stripe defines more
// (past_due, incomplete, unpaid, paused, ...) and those are stored verbatim.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusCanceled = "canceled"
)

// Subscription mirrors one Stripe subscription.
type Subscription struct {
	BaseModel

	UserID               string `json:"user_id" gorm:"not null;index"`
	StripeCustomerID     string `json:"stripe_customer_id" gorm:"not null;size:100;index"`
	StripeSubscriptionID string `json:"stripe_subscription_id" gorm:"not null;size:100;uniqueIndex"`
	PriceID              string `json:"price_id,omitempty" gorm:"size:100"`

	Status            string    `json:"status" gorm:"not null;size:32;index"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end" gorm:"not null;default:false"`
	CurrentPeriodEnd  time.Time `json:"current_period_end" gorm:"index"`
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsLive reports whether the status is one of active or trialing.
func IsLive(status string) bool {
	return status == StatusActive || status == StatusTrialing
}

// IsEntitled reports whether the subscription grants access at now.
// cancel_at_period_end does not matter until the period actually ends.
func (s *Subscription) IsEntitled(now time.Time) bool {
	if s == nil {
		return false
	}
	return IsLive(s.Status) && s.CurrentPeriodEnd.After(now)
}

// IsSoftDeleted reports whether the account deletion cascade retired this row.
func (s *Subscription) IsSoftDeleted() bool {
	return s != nil && s.DeletedAt.Valid
}
