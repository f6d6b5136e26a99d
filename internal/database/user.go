package database

import (
	"context"
	"time"

	"subscription-api/internal/models"

	"gorm.io/gorm"
)

// GetUser 获取用户
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SoftDeleteAccount marks the user deleted and retires every subscription row
// they own in one transaction.
func (s *Store) SoftDeleteAccount(ctx context.Context, userID string, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// accounts without a profile row still get one so the sweeper can find them
		var user models.User
		err := tx.Where(models.User{ID: userID}).
			Assign(map[string]interface{}{
				"is_deleted": true,
				"deleted_at": now,
			}).
			FirstOrCreate(&user).Error
		if err != nil {
			return err
		}

		return tx.Model(&models.Subscription{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"status":     models.StatusCanceled,
				"deleted_at": now,
			}).Error
	})
}

// ReactivateUser clears the soft-delete flags of a returning user. It reports
// false when the user was not deleted.
func (s *Store) ReactivateUser(ctx context.Context, userID string, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND is_deleted = ?", userID, true).
		Updates(map[string]interface{}{
			"is_deleted":     false,
			"deleted_at":     nil,
			"reactivated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
