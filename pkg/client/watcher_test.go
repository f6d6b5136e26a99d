package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	subs    map[string]*Subscription
	gets    int
	synced  []string
	syncErr error
	changes chan Change
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{subs: make(map[string]*Subscription)}
}

func (f *fakeAPI) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if sub, ok := f.subs[userID]; ok {
		copied := *sub
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeAPI) Sync(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, subscriptionID)
	return f.syncErr
}

func (f *fakeAPI) Updates(ctx context.Context, userID string) (<-chan Change, error) {
	return f.changes, nil
}

func (f *fakeAPI) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeAPI) syncedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.synced...)
}

func activeSub(userID, id string) *Subscription {
	return &Subscription{
		UserID:               userID,
		StripeSubscriptionID: id,
		Status:               "active",
		CurrentPeriodEnd:     time.Now().Add(24 * time.Hour),
	}
}

// long delays keep background syncs out of tests that do not want them
func quietOptions() WatcherOptions {
	return WatcherOptions{SyncWait: time.Hour, FirstSyncDelay: time.Hour}
}

func TestWatcher_CachesWithinTTL(t *testing.T) {
	api := newFakeAPI()
	api.subs["u1"] = activeSub("u1", "sub_1")

	now := time.Now()
	opts := quietOptions()
	opts.Now = func() time.Time { return now }
	w := NewSubscriptionWatcher(api, opts)
	defer w.Close()

	for i := 0; i < 3; i++ {
		sub, err := w.Subscription(context.Background(), "u1")
		require.NoError(t, err)
		require.NotNil(t, sub)
	}
	assert.Equal(t, 1, api.getCount())

	now = now.Add(31 * time.Second)
	_, err := w.Subscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, api.getCount())
}

func TestWatcher_EmptyUserReturnsNil(t *testing.T) {
	api := newFakeAPI()
	w := NewSubscriptionWatcher(api, quietOptions())
	defer w.Close()

	sub, err := w.Subscription(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.Zero(t, api.getCount())
}

func TestWatcher_ExpiredSubscriptionIsNotCached(t *testing.T) {
	api := newFakeAPI()
	expired := activeSub("u1", "sub_1")
	expired.CurrentPeriodEnd = time.Now().Add(-time.Minute)
	api.subs["u1"] = expired

	w := NewSubscriptionWatcher(api, quietOptions())
	defer w.Close()

	sub, err := w.Subscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestWatcher_ApplyReplacesCachedValue(t *testing.T) {
	api := newFakeAPI()
	api.subs["u1"] = activeSub("u1", "sub_1")

	var mu sync.Mutex
	var seen []*Subscription
	opts := quietOptions()
	opts.OnChange = func(userID string, sub *Subscription) {
		mu.Lock()
		seen = append(seen, sub)
		mu.Unlock()
	}
	w := NewSubscriptionWatcher(api, opts)
	defer w.Close()

	_, err := w.Subscription(context.Background(), "u1")
	require.NoError(t, err)

	canceled := activeSub("u1", "sub_1")
	canceled.Status = "canceled"
	w.Apply(Change{Type: "upsert", UserID: "u1", Subscription: canceled})

	sub, err := w.Subscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.Equal(t, 1, api.getCount())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.NotNil(t, seen[0])
	assert.Nil(t, seen[1])
}

func TestWatcher_RequestSyncDebounces(t *testing.T) {
	api := newFakeAPI()
	w := NewSubscriptionWatcher(api, WatcherOptions{SyncWait: 50 * time.Millisecond, FirstSyncDelay: time.Hour})
	defer w.Close()

	w.RequestSync("sub_1")
	w.RequestSync("sub_2")
	w.RequestSync("sub_3")

	require.Eventually(t, func() bool { return len(api.syncedIDs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"sub_3"}, api.syncedIDs())
}

func TestWatcher_FirstSyncAfterNewSubscription(t *testing.T) {
	api := newFakeAPI()
	api.subs["u1"] = activeSub("u1", "sub_1")

	w := NewSubscriptionWatcher(api, WatcherOptions{SyncWait: 10 * time.Millisecond, FirstSyncDelay: 10 * time.Millisecond})
	defer w.Close()

	_, err := w.Subscription(context.Background(), "u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ids := api.syncedIDs()
		return len(ids) == 1 && ids[0] == "sub_1"
	}, 2*time.Second, 10*time.Millisecond)
	// the post-sync refetch sees the same id and does not schedule another sync
	require.Eventually(t, func() bool { return api.getCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, api.syncedIDs(), 1)
}

func TestWatcher_StopsAfterMaxFailures(t *testing.T) {
	api := newFakeAPI()
	api.syncErr = errors.New("down")

	w := NewSubscriptionWatcher(api, WatcherOptions{SyncWait: 5 * time.Millisecond, FirstSyncDelay: time.Hour, MaxSyncFailures: 2})
	defer w.Close()

	for i := 0; i < 2; i++ {
		w.RequestSync("sub_1")
		want := i + 1
		require.Eventually(t, func() bool { return w.SyncFailures() == want }, 2*time.Second, 5*time.Millisecond)
	}

	w.RequestSync("sub_1")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, api.syncedIDs(), 2)
	assert.EqualError(t, w.Err(), "down")
}

func TestWatcher_SuccessResetsFailures(t *testing.T) {
	api := newFakeAPI()
	api.syncErr = errors.New("down")

	w := NewSubscriptionWatcher(api, WatcherOptions{SyncWait: 5 * time.Millisecond, FirstSyncDelay: time.Hour})
	defer w.Close()

	w.RequestSync("sub_1")
	require.Eventually(t, func() bool { return w.SyncFailures() == 1 }, 2*time.Second, 5*time.Millisecond)

	api.mu.Lock()
	api.syncErr = nil
	api.mu.Unlock()

	w.RequestSync("sub_1")
	require.Eventually(t, func() bool { return w.SyncFailures() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatcher_WatchAppliesFeed(t *testing.T) {
	api := newFakeAPI()
	api.changes = make(chan Change, 1)
	api.changes <- Change{Type: "upsert", UserID: "u1", Subscription: activeSub("u1", "sub_9")}
	close(api.changes)

	w := NewSubscriptionWatcher(api, quietOptions())
	defer w.Close()

	require.NoError(t, w.Watch(context.Background(), "u1"))

	sub, err := w.Subscription(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub_9", sub.StripeSubscriptionID)
	assert.Zero(t, api.getCount())
}
