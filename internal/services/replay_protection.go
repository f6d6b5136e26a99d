package services

import (
	"context"
	"time"

	"subscription-api/pkg/logging"
)

// EventLedger remembers which webhook events were handled so Stripe
// redeliveries are acknowledged without running them again. Events are only
// recorded after they succeed, so failed deliveries are retried in full.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string) error
}

// ReplayProtection is the in-memory EventLedger.
type ReplayProtection struct {
	cache *ttlCache
}

// NewReplayProtection 创建重放防护实例, 记录保存 ttl
func NewReplayProtection(ttl time.Duration) *ReplayProtection {
	return &ReplayProtection{cache: newTTLCache("replay protection", ttl, time.Hour)}
}

func (rp *ReplayProtection) Seen(_ context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	_, ok := rp.cache.get(eventID)
	if ok {
		logging.Infof("Replay detected - event_id: %s", eventID)
	}
	return ok, nil
}

func (rp *ReplayProtection) Record(_ context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	rp.cache.set(eventID, time.Now())
	return nil
}

// GetStats 获取统计信息
func (rp *ReplayProtection) GetStats() map[string]interface{} {
	return rp.cache.stats()
}

// Stop 停止清理协程
func (rp *ReplayProtection) Stop() {
	rp.cache.stop()
}

// RedisEventLedger is the EventLedger shared by every instance.
type RedisEventLedger struct {
	redis *RedisService
	ttl   time.Duration
}

// NewRedisEventLedger creates a Redis backed event ledger.
func NewRedisEventLedger(redis *RedisService, ttl time.Duration) *RedisEventLedger {
	return &RedisEventLedger{redis: redis, ttl: ttl}
}

func (l *RedisEventLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	return l.redis.exists(ctx, processedEventPrefix+eventID)
}

func (l *RedisEventLedger) Record(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	return l.redis.client.SetNX(ctx, processedEventPrefix+eventID, time.Now().Unix(), l.ttl).Err()
}
