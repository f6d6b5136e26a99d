package client

import (
	"context"
	"sync"
	"time"

	"subscription-api/pkg/logging"
)

// API is the part of Client the watcher uses.
type API interface {
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)
	Sync(ctx context.Context, subscriptionID string) error
	Updates(ctx context.Context, userID string) (<-chan Change, error)
}

// WatcherOptions tunes a SubscriptionWatcher. Zero values take the defaults.
type WatcherOptions struct {
	CacheTTL        time.Duration // 30s
	SyncWait        time.Duration // 30s quiet period before a requested sync runs
	FirstSyncDelay  time.Duration // 1s
	MaxSyncFailures int           // 3
	Now             func() time.Time
	// OnChange is called with the user id and the new entitling subscription (or nil).
	OnChange func(userID string, sub *Subscription)
}

type cacheEntry struct {
	sub       *Subscription
	fetchedAt time.Time
}

// SubscriptionWatcher keeps a short-lived per-user view of the current
// subscription and asks the API to re-sync from the provider, debounced.
type SubscriptionWatcher struct {
	api  API
	opts WatcherOptions

	mu            sync.Mutex
	cache         map[string]cacheEntry
	owners        map[string]string // subscription id -> user id
	failures      int
	lastErr       error
	syncTimer     *time.Timer
	pendingSyncID string
	firstTimers   map[string]*time.Timer
	closed        bool
}

// NewSubscriptionWatcher creates a watcher over api.
func NewSubscriptionWatcher(api API, opts WatcherOptions) *SubscriptionWatcher {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.SyncWait <= 0 {
		opts.SyncWait = 30 * time.Second
	}
	if opts.FirstSyncDelay <= 0 {
		opts.FirstSyncDelay = time.Second
	}
	if opts.MaxSyncFailures <= 0 {
		opts.MaxSyncFailures = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SubscriptionWatcher{
		api:         api,
		opts:        opts,
		cache:       make(map[string]cacheEntry),
		owners:      make(map[string]string),
		firstTimers: make(map[string]*time.Timer),
	}
}

// Subscription returns the user's entitling subscription, or nil. Results
// are served from cache for CacheTTL.
func (w *SubscriptionWatcher) Subscription(ctx context.Context, userID string) (*Subscription, error) {
	if userID == "" {
		return nil, nil
	}

	w.mu.Lock()
	if entry, ok := w.cache[userID]; ok && w.opts.Now().Sub(entry.fetchedAt) < w.opts.CacheTTL {
		w.mu.Unlock()
		return entry.sub, nil
	}
	w.mu.Unlock()

	return w.refresh(ctx, userID)
}

func (w *SubscriptionWatcher) refresh(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := w.api.GetSubscription(ctx, userID)
	if err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		return nil, err
	}
	w.store(userID, sub)
	return w.cached(userID), nil
}

func (w *SubscriptionWatcher) cached(userID string) *Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cache[userID].sub
}

// store caches sub for userID after the entitlement check and schedules the
// first sync when the user's subscription id changes.
func (w *SubscriptionWatcher) store(userID string, sub *Subscription) {
	now := w.opts.Now()
	if !sub.IsEntitled(now) {
		sub = nil
	}

	w.mu.Lock()
	previous := w.cache[userID].sub
	w.cache[userID] = cacheEntry{sub: sub, fetchedAt: now}
	newID := ""
	if sub != nil && sub.StripeSubscriptionID != "" {
		newID = sub.StripeSubscriptionID
		w.owners[newID] = userID
	}
	changedID := newID != "" && (previous == nil || previous.StripeSubscriptionID != newID)
	if changedID && !w.closed {
		if t, ok := w.firstTimers[userID]; ok {
			t.Stop()
		}
		w.firstTimers[userID] = time.AfterFunc(w.opts.FirstSyncDelay, func() { w.RequestSync(newID) })
	}
	w.mu.Unlock()

	if w.opts.OnChange != nil {
		w.opts.OnChange(userID, sub)
	}
}

// Apply folds one change notification into the cache.
func (w *SubscriptionWatcher) Apply(change Change) {
	userID := change.UserID
	if userID == "" && change.Subscription != nil {
		userID = change.Subscription.UserID
	}
	if userID == "" {
		return
	}
	if change.Subscription != nil && !change.Subscription.IsEntitled(w.opts.Now()) {
		logging.Infof("Subscription expired or invalidated for user %s", userID)
	}
	w.store(userID, change.Subscription)
}

// RequestSync schedules a provider sync of subscriptionID once no further
// request arrives for SyncWait. Only the last requested id is synced.
func (w *SubscriptionWatcher) RequestSync(subscriptionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || subscriptionID == "" {
		return
	}
	w.pendingSyncID = subscriptionID
	if w.syncTimer != nil {
		w.syncTimer.Stop()
	}
	w.syncTimer = time.AfterFunc(w.opts.SyncWait, w.runSync)
}

func (w *SubscriptionWatcher) runSync() {
	w.mu.Lock()
	subscriptionID := w.pendingSyncID
	if w.closed || subscriptionID == "" {
		w.mu.Unlock()
		return
	}
	if w.failures >= w.opts.MaxSyncFailures {
		w.mu.Unlock()
		logging.Warnf("Max sync retries reached, skipping sync of %s", subscriptionID)
		return
	}
	userID := w.owners[subscriptionID]
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.api.Sync(ctx, subscriptionID); err != nil {
		logging.Errorf("Error syncing subscription %s: %v", subscriptionID, err)
		w.mu.Lock()
		w.failures++
		w.lastErr = err
		w.mu.Unlock()
		return
	}

	if userID != "" {
		if _, err := w.refresh(ctx, userID); err != nil {
			logging.Errorf("Error refreshing subscription for %s: %v", userID, err)
		}
	}
	w.mu.Lock()
	w.failures = 0
	w.mu.Unlock()
}

// Watch applies changes from the updates feed until ctx is done or the feed closes.
func (w *SubscriptionWatcher) Watch(ctx context.Context, userID string) error {
	changes, err := w.api.Updates(ctx, userID)
	if err != nil {
		return err
	}
	for change := range changes {
		w.Apply(change)
	}
	return ctx.Err()
}

// Err returns the last fetch or sync error.
func (w *SubscriptionWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// SyncFailures returns the number of consecutive failed syncs.
func (w *SubscriptionWatcher) SyncFailures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

// Close stops pending timers.
func (w *SubscriptionWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.syncTimer != nil {
		w.syncTimer.Stop()
	}
	for _, t := range w.firstTimers {
		t.Stop()
	}
}
