package database

import (
	"context"
	"fmt"
	"time"

	"subscription-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var liveStatuses = []string{models.StatusActive, models.StatusTrialing}

// SubscriptionState is the provider-owned part of a subscription row that
// every lifecycle event overwrites.
type SubscriptionState struct {
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
}

// GetSubscriptionByStripeID 通过 Stripe 订阅ID获取订阅
// The lookup includes soft-deleted rows; they still own their key.
func (s *Store) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var subscription models.Subscription
	err := s.db.WithContext(ctx).Unscoped().
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&subscription).Error
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// HasLiveSubscriptionForCustomer reports whether the customer already owns an
// active or trialing row other than exceptSubscriptionID.
func (s *Store) HasLiveSubscriptionForCustomer(ctx context.Context, customerID, exceptSubscriptionID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_customer_id = ? AND status IN ? AND stripe_subscription_id <> ?",
			customerID, liveStatuses, exceptSubscriptionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasLiveSubscriptionForUser 检查用户是否有 active/trialing 订阅
func (s *Store) HasLiveSubscriptionForUser(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND status IN ?", userID, liveStatuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserSubscriptions 获取用户的所有订阅
func (s *Store) GetUserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subscriptions).Error
	return subscriptions, err
}

// GetEntitledSubscription returns the newest subscription that grants access
// at now, or ErrNotFound.
func (s *Store) GetEntitledSubscription(ctx context.Context, userID string, now time.Time) (*models.Subscription, error) {
	var subscriptions []models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, liveStatuses).
		Order("created_at DESC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	// period end is compared in Go; SQLite stores timestamps as text
	for i := range subscriptions {
		if subscriptions[i].IsEntitled(now) {
			return &subscriptions[i], nil
		}
	}
	return nil, ErrNotFound
}

// CreateOrUpdateSubscription inserts a new row or, when another writer got
// there first, overwrites its provider-owned columns. Rows retired by the
// account deletion cascade are left alone.
func (s *Store) CreateOrUpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Subscription
		err := tx.Unscoped().
			Where("stripe_subscription_id = ?", subscription.StripeSubscriptionID).
			First(&existing).Error
		if err != nil && !IsNotFound(err) {
			return err
		}

		if err == nil {
			if existing.IsSoftDeleted() {
				*subscription = existing
				return nil
			}
			err = tx.Model(&existing).Updates(map[string]interface{}{
				"status":               subscription.Status,
				"cancel_at_period_end": subscription.CancelAtPeriodEnd,
				"current_period_end":   subscription.CurrentPeriodEnd,
			}).Error
			if err != nil {
				return err
			}
			return tx.First(subscription, existing.ID).Error
		}

		// ON CONFLICT keeps two racing inserts from failing on the unique key
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "cancel_at_period_end", "current_period_end", "updated_at"}),
		}).Create(subscription).Error
	})
}

// UpdateSubscriptionState overwrites the lifecycle columns of a live row and
// returns the updated row. Soft-deleted rows are not matched.
func (s *Store) UpdateSubscriptionState(ctx context.Context, stripeSubscriptionID string, state SubscriptionState) (*models.Subscription, error) {
	return s.updateSubscription(ctx, stripeSubscriptionID, map[string]interface{}{
		"status":               state.Status,
		"cancel_at_period_end": state.CancelAtPeriodEnd,
		"current_period_end":   state.CurrentPeriodEnd,
	})
}

// SetCancelAtPeriodEnd mirrors a cancel or reactivate. A zero periodEnd
// leaves current_period_end untouched.
func (s *Store) SetCancelAtPeriodEnd(ctx context.Context, stripeSubscriptionID string, cancel bool, periodEnd time.Time) (*models.Subscription, error) {
	updates := map[string]interface{}{"cancel_at_period_end": cancel}
	if !periodEnd.IsZero() {
		updates["current_period_end"] = periodEnd
	}
	return s.updateSubscription(ctx, stripeSubscriptionID, updates)
}

func (s *Store) updateSubscription(ctx context.Context, stripeSubscriptionID string, updates map[string]interface{}) (*models.Subscription, error) {
	var subscription models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&subscription).Error; err != nil {
			return err
		}
		if err := tx.Model(&subscription).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&subscription, subscription.ID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", stripeSubscriptionID, err)
	}
	return &subscription, nil
}

// GetRetiredSubscriptions returns cascade-canceled rows of deleted accounts
// retired at or after since.
func (s *Store) GetRetiredSubscriptions(ctx context.Context, since time.Time) ([]models.Subscription, error) {
	var userIDs []string
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("is_deleted = ?", true).
		Pluck("id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	var subscriptions []models.Subscription
	err = s.db.WithContext(ctx).Unscoped().
		Where("user_id IN ? AND deleted_at IS NOT NULL", userIDs).
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}

	retired := subscriptions[:0]
	for _, sub := range subscriptions {
		if !sub.DeletedAt.Time.Before(since) {
			retired = append(retired, sub)
		}
	}
	return retired, nil
}
