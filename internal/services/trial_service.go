package services

import (
	"context"
	"fmt"
	"time"

	"subscription-api/internal/database"
	"subscription-api/internal/models"
)

// DefaultTrialDuration is the length of the one trial a user gets.
const DefaultTrialDuration = 48 * time.Hour

// TrialStatus is what the trial endpoint reports.
type TrialStatus struct {
	IsInTrial    bool       `json:"isInTrial"`
	TrialEndTime *time.Time `json:"trialEndTime"`
}

// TrialService resolves trial status, starting the trial on first check.
type TrialService struct {
	store    *database.Store
	duration time.Duration
	now      func() time.Time
}

// NewTrialService creates a trial resolver. A non-positive duration uses DefaultTrialDuration.
func NewTrialService(store *database.Store, duration time.Duration) *TrialService {
	if duration <= 0 {
		duration = DefaultTrialDuration
	}
	return &TrialService{store: store, duration: duration, now: time.Now}
}

// Status reports whether the user is in their trial. Subscribers are never
// in trial and never get a trial row.
func (s *TrialService) Status(ctx context.Context, userID string) (*TrialStatus, error) {
	subscribed, err := s.store.HasLiveSubscriptionForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check subscription for %s: %w", userID, err)
	}
	if subscribed {
		return &TrialStatus{IsInTrial: false}, nil
	}

	now := s.now()
	trial, err := s.store.GetTrial(ctx, userID)
	switch {
	case err == nil:
	case database.IsNotFound(err):
		trial, err = s.store.CreateTrialIfAbsent(ctx, &models.UserTrial{
			UserID:       userID,
			TrialEndTime: now.Add(s.duration).UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("start trial for %s: %w", userID, err)
		}
	default:
		return nil, fmt.Errorf("load trial for %s: %w", userID, err)
	}

	end := trial.TrialEndTime
	return &TrialStatus{IsInTrial: trial.InEffect(now), TrialEndTime: &end}, nil
}
