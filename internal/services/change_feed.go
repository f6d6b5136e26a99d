package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"subscription-api/internal/models"
	"subscription-api/pkg/logging"
)

// Change types carried on the feed.
const (
	ChangeUpsert = "upsert"
	ChangeDelete = "delete"
)

// SubscriptionChange is one row change pushed to watching clients.
type SubscriptionChange struct {
	Type         string               `json:"type"`
	UserID       string               `json:"user_id"`
	Subscription *models.Subscription `json:"subscription"`
	At           time.Time            `json:"at"`
}

// ChangePublisher receives every successful subscription write.
type ChangePublisher interface {
	Publish(ctx context.Context, change SubscriptionChange) error
}

// ChangeFeed is a ChangePublisher that clients can subscribe to per user.
type ChangeFeed interface {
	ChangePublisher
	// Subscribe streams changes for userID until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, userID string) (<-chan SubscriptionChange, error)
}

func newSubscriptionChange(sub *models.Subscription, at time.Time) SubscriptionChange {
	changeType := ChangeUpsert
	if sub.IsSoftDeleted() {
		changeType = ChangeDelete
	}
	return SubscriptionChange{Type: changeType, UserID: sub.UserID, Subscription: sub, At: at}
}

// RedisChangeFeed fans changes out over Redis pub/sub, one channel per user.
type RedisChangeFeed struct {
	redis *RedisService
}

// NewRedisChangeFeed creates a Redis pub/sub change feed.
func NewRedisChangeFeed(redis *RedisService) *RedisChangeFeed {
	return &RedisChangeFeed{redis: redis}
}

func (f *RedisChangeFeed) Publish(ctx context.Context, change SubscriptionChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal subscription change: %w", err)
	}
	return f.redis.client.Publish(ctx, updatesChannelPrefix+change.UserID, data).Err()
}

func (f *RedisChangeFeed) Subscribe(ctx context.Context, userID string) (<-chan SubscriptionChange, error) {
	pubsub := f.redis.client.Subscribe(ctx, updatesChannelPrefix+userID)
	// wait for the subscription to be confirmed so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to updates for %s: %w", userID, err)
	}

	out := make(chan SubscriptionChange, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change SubscriptionChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					logging.Warnf("Dropping malformed subscription change for %s: %v", userID, err)
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// MemoryChangeFeed delivers changes to subscribers in this process only.
type MemoryChangeFeed struct {
	mutex       sync.RWMutex
	subscribers map[string]map[chan SubscriptionChange]struct{}
}

// NewMemoryChangeFeed creates an in-process change feed.
func NewMemoryChangeFeed() *MemoryChangeFeed {
	return &MemoryChangeFeed{subscribers: make(map[string]map[chan SubscriptionChange]struct{})}
}

// Publish never blocks; a subscriber whose buffer is full misses the change.
func (f *MemoryChangeFeed) Publish(_ context.Context, change SubscriptionChange) error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	for ch := range f.subscribers[change.UserID] {
		select {
		case ch <- change:
		default:
			logging.Warnf("Subscriber for %s is slow, dropping change", change.UserID)
		}
	}
	return nil
}

func (f *MemoryChangeFeed) Subscribe(ctx context.Context, userID string) (<-chan SubscriptionChange, error) {
	ch := make(chan SubscriptionChange, 16)

	f.mutex.Lock()
	if f.subscribers[userID] == nil {
		f.subscribers[userID] = make(map[chan SubscriptionChange]struct{})
	}
	f.subscribers[userID][ch] = struct{}{}
	f.mutex.Unlock()

	go func() {
		<-ctx.Done()
		f.mutex.Lock()
		delete(f.subscribers[userID], ch)
		if len(f.subscribers[userID]) == 0 {
			delete(f.subscribers, userID)
		}
		f.mutex.Unlock()
		close(ch)
	}()
	return ch, nil
}
