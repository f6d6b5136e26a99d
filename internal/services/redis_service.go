package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pairingKeyPrefix     = "stripe_pairing:"
	processedEventPrefix = "stripe_event:"
	updatesChannelPrefix = "subscription_updates:"
)

// RedisService provides the Redis operations shared by the pairing store,
// the event ledger and the change feed.
type RedisService struct {
	client *redis.Client
}

// NewRedisService wraps a connected Redis client.
func NewRedisService(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

// Client returns the underlying Redis client.
func (r *RedisService) Client() *redis.Client {
	return r.client
}

func (r *RedisService) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// getJSON decodes key into dest and reports whether the key existed.
func (r *RedisService) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisService) exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisService) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
