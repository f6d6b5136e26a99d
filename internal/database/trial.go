package database

import (
	"context"

	"subscription-api/internal/models"

	"gorm.io/gorm/clause"
)

// GetTrial 获取用户试用记录
func (s *Store) GetTrial(ctx context.Context, userID string) (*models.UserTrial, error) {
	var trial models.UserTrial
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&trial).Error; err != nil {
		return nil, err
	}
	return &trial, nil
}

// CreateTrialIfAbsent inserts the trial unless the user already has one and
// returns whichever row is stored. Concurrent first checks converge on the
// same end time.
func (s *Store) CreateTrialIfAbsent(ctx context.Context, trial *models.UserTrial) (*models.UserTrial, error) {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(trial).Error
	if err != nil {
		return nil, err
	}
	return s.GetTrial(ctx, trial.UserID)
}
