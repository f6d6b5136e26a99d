package models

import "time"

// User is the application profile row. Soft delete uses explicit flags
// instead of gorm.DeletedAt so that a reactivated account can clear them.
type User struct {
	ID            string     `json:"id" gorm:"primaryKey;size:64"`
	Email         string     `json:"email" gorm:"size:255;index"`
	IsDeleted     bool       `json:"is_deleted" gorm:"not null;default:false;index"`
	DeletedAt     *time.Time `json:"deleted_at"`
	ReactivatedAt *time.Time `json:"reactivated_at"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
