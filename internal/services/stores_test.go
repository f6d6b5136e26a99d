package services

import (
	"context"
	"testing"
	"time"

	"subscription-api/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisService(client)
}

func TestPairingStores(t *testing.T) {
	_, rs := newTestRedis(t)
	memory := NewMemoryPairingStore(time.Hour)
	t.Cleanup(memory.Stop)

	stores := map[string]PairingStore{
		"redis":  NewRedisPairingStore(rs, time.Hour),
		"memory": memory,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := store.Get(ctx, "sub_1")
			require.NoError(t, err)
			assert.False(t, found)

			want := Pairing{Checkout: &PendingCheckout{UserID: "u1", CustomerID: "cus_1"}}
			require.NoError(t, store.Put(ctx, "sub_1", want))

			got, found, err := store.Get(ctx, "sub_1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, want, got)

			require.NoError(t, store.Delete(ctx, "sub_1"))
			_, found, err = store.Get(ctx, "sub_1")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestRedisPairingStore_Expires(t *testing.T) {
	mr, rs := newTestRedis(t)
	store := NewRedisPairingStore(rs, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sub_1", Pairing{Subscription: &PendingSubscription{ID: "sub_1", CustomerID: "cus_1"}}))
	mr.FastForward(2 * time.Minute)

	_, found, err := store.Get(ctx, "sub_1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryPairingStore_Expires(t *testing.T) {
	store := NewMemoryPairingStore(time.Minute)
	t.Cleanup(store.Stop)
	now := testNow
	store.cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sub_1", Pairing{Subscription: &PendingSubscription{ID: "sub_1"}}))
	now = now.Add(2 * time.Minute)

	_, found, err := store.Get(ctx, "sub_1")
	require.NoError(t, err)
	assert.False(t, found)

	store.cache.cleanup()
	assert.Equal(t, 0, store.GetStats()["entries"])
}

func TestEventLedgers(t *testing.T) {
	_, rs := newTestRedis(t)
	memory := NewReplayProtection(time.Hour)
	t.Cleanup(memory.Stop)

	ledgers := map[string]EventLedger{
		"redis":  NewRedisEventLedger(rs, time.Hour),
		"memory": memory,
	}

	for name, ledger := range ledgers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			seen, err := ledger.Seen(ctx, "evt_1")
			require.NoError(t, err)
			assert.False(t, seen)

			require.NoError(t, ledger.Record(ctx, "evt_1"))
			seen, err = ledger.Seen(ctx, "evt_1")
			require.NoError(t, err)
			assert.True(t, seen)

			// events without an id are never deduplicated
			require.NoError(t, ledger.Record(ctx, ""))
			seen, err = ledger.Seen(ctx, "")
			require.NoError(t, err)
			assert.False(t, seen)
		})
	}
}

func TestChangeFeeds(t *testing.T) {
	_, rs := newTestRedis(t)

	feeds := map[string]ChangeFeed{
		"redis":  NewRedisChangeFeed(rs),
		"memory": NewMemoryChangeFeed(),
	}

	for name, feed := range feeds {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			updates, err := feed.Subscribe(ctx, "u1")
			require.NoError(t, err)

			sub := &models.Subscription{UserID: "u1", StripeSubscriptionID: "sub_1", Status: models.StatusActive}
			require.NoError(t, feed.Publish(ctx, SubscriptionChange{Type: ChangeUpsert, UserID: "u2", Subscription: sub}))
			require.NoError(t, feed.Publish(ctx, newSubscriptionChange(sub, testNow)))

			select {
			case change := <-updates:
				assert.Equal(t, ChangeUpsert, change.Type)
				assert.Equal(t, "u1", change.UserID)
				require.NotNil(t, change.Subscription)
				assert.Equal(t, "sub_1", change.Subscription.StripeSubscriptionID)
			case <-time.After(2 * time.Second):
				t.Fatal("no change received")
			}

			cancel()
			require.Eventually(t, func() bool {
				select {
				case _, ok := <-updates:
					return !ok
				default:
					return false
				}
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}
