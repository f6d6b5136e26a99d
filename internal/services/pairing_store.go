package services

import (
	"context"
	"fmt"
	"time"
)

// Pairing correlates a checkout session with the subscription events that
// may arrive before or after it. Exactly one of Checkout and Subscription is set.
type Pairing struct {
	Checkout     *PendingCheckout     `json:"checkout,omitempty"`
	Subscription *PendingSubscription `json:"subscription,omitempty"`
}

// PendingCheckout is the owner data a completed checkout resolved.
type PendingCheckout struct {
	UserID     string `json:"user_id"`
	CustomerID string `json:"customer_id"`
}

// PendingSubscription is a subscription seen before its owner was known.
type PendingSubscription struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
}

// PairingStore holds pairings keyed by subscription id with a TTL.
type PairingStore interface {
	Put(ctx context.Context, subscriptionID string, pairing Pairing) error
	// Get reports false when no live pairing exists.
	Get(ctx context.Context, subscriptionID string) (Pairing, bool, error)
	Delete(ctx context.Context, subscriptionID string) error
}

// RedisPairingStore keeps pairings in Redis so that every instance sees them.
type RedisPairingStore struct {
	redis *RedisService
	ttl   time.Duration
}

// NewRedisPairingStore creates a Redis backed pairing store.
func NewRedisPairingStore(redis *RedisService, ttl time.Duration) *RedisPairingStore {
	return &RedisPairingStore{redis: redis, ttl: ttl}
}

func (s *RedisPairingStore) Put(ctx context.Context, subscriptionID string, pairing Pairing) error {
	if err := s.redis.setJSON(ctx, pairingKeyPrefix+subscriptionID, pairing, s.ttl); err != nil {
		return fmt.Errorf("store pairing %s: %w", subscriptionID, err)
	}
	return nil
}

func (s *RedisPairingStore) Get(ctx context.Context, subscriptionID string) (Pairing, bool, error) {
	var pairing Pairing
	found, err := s.redis.getJSON(ctx, pairingKeyPrefix+subscriptionID, &pairing)
	if err != nil {
		return Pairing{}, false, fmt.Errorf("load pairing %s: %w", subscriptionID, err)
	}
	return pairing, found, nil
}

func (s *RedisPairingStore) Delete(ctx context.Context, subscriptionID string) error {
	return s.redis.del(ctx, pairingKeyPrefix+subscriptionID)
}

// MemoryPairingStore keeps pairings in process memory. Pairings are lost on
// restart and are not shared between instances.
type MemoryPairingStore struct {
	cache *ttlCache
}

// NewMemoryPairingStore creates an in-memory pairing store. Call Stop to end
// its cleanup goroutine.
func NewMemoryPairingStore(ttl time.Duration) *MemoryPairingStore {
	return &MemoryPairingStore{cache: newTTLCache("pairing store", ttl, time.Hour)}
}

func (s *MemoryPairingStore) Put(_ context.Context, subscriptionID string, pairing Pairing) error {
	s.cache.set(subscriptionID, pairing)
	return nil
}

func (s *MemoryPairingStore) Get(_ context.Context, subscriptionID string) (Pairing, bool, error) {
	value, ok := s.cache.get(subscriptionID)
	if !ok {
		return Pairing{}, false, nil
	}
	return value.(Pairing), true, nil
}

func (s *MemoryPairingStore) Delete(_ context.Context, subscriptionID string) error {
	s.cache.delete(subscriptionID)
	return nil
}

// GetStats 获取统计信息
func (s *MemoryPairingStore) GetStats() map[string]interface{} {
	return s.cache.stats()
}

// Stop 停止清理协程
func (s *MemoryPairingStore) Stop() {
	s.cache.stop()
}
