package models

import (
	"time"
)

// WebhookEvent 支付事件审计表
// 每个 Stripe 事件一行，记录最后一次处理结果
type WebhookEvent struct {
	BaseModel

	// 事件标识
	EventID   string `json:"event_id" gorm:"not null;size:100;uniqueIndex"` // Stripe 事件ID
	EventType string `json:"event_type" gorm:"not null;size:100;index"`     // 事件类型

	// 关联字段
	StripeSubscriptionID string `json:"stripe_subscription_id" gorm:"size:100;index"` // 订阅ID（checkout 与订阅事件）

	// 处理结果
	Outcome  string `json:"outcome" gorm:"not null;size:20;index"` // processed / blocked / deferred / ignored / failed
	Error    string `json:"error" gorm:"type:text"`                // 失败原因
	Attempts int    `json:"attempts" gorm:"not null;default:1"`    // 投递次数

	// 时间
	ProcessedAt time.Time `json:"processed_at"` // 最后处理时间
}

// TableName 指定表名
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
