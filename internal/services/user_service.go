package services

import (
	"context"
	"time"

	"subscription-api/internal/database"
	"subscription-api/pkg/logging"
)

// UserService handles account lifecycle outside of billing.
type UserService struct {
	store *database.Store
	now   func() time.Time
}

// NewUserService creates a user service.
func NewUserService(store *database.Store) *UserService {
	return &UserService{store: store, now: time.Now}
}

// Reactivate restores a soft-deleted account when its owner signs in again.
// It reports whether anything changed. Subscriptions retired with the
// account stay canceled.
func (s *UserService) Reactivate(ctx context.Context, userID string) (bool, error) {
	reactivated, err := s.store.ReactivateUser(ctx, userID, s.now().UTC())
	if err != nil {
		return false, err
	}
	if reactivated {
		logging.Infof("Reactivated soft-deleted account: %s", userID)
	}
	return reactivated, nil
}
