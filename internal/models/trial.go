package models

import "time"

// UserTrial is the single time-boxed trial window a user gets.
type UserTrial struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"user_id" gorm:"not null;uniqueIndex"`
	TrialEndTime time.Time `json:"trial_end_time" gorm:"not null"`
	IsTrialUsed  bool      `json:"is_trial_used" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (UserTrial) TableName() string {
	return "user_trials"
}

// InEffect reports whether the trial still grants access at now.
func (t *UserTrial) InEffect(now time.Time) bool {
	return t != nil && !t.IsTrialUsed && now.Before(t.TrialEndTime)
}
