package database

import (
	"context"

	"subscription-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordWebhookEvent stores the result of handling an event. A redelivered
// event overwrites the previous result and bumps the attempt counter.
func (s *Store) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	if event.Attempts == 0 {
		event.Attempts = 1
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"outcome":      event.Outcome,
			"error":        event.Error,
			"processed_at": event.ProcessedAt,
			"updated_at":   event.ProcessedAt,
			"attempts":     gorm.Expr("webhook_events.attempts + 1"),
		}),
	}).Create(event).Error
}

// GetWebhookEvent 获取事件处理记录
func (s *Store) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}
