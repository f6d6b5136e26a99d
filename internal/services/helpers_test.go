package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"subscription-api/internal/billing"
	"subscription-api/internal/database"
	"subscription-api/internal/models"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return database.NewStore(db)
}

// fakeProvider is an in-memory billing.Provider.
type fakeProvider struct {
	mu        sync.Mutex
	subs      map[string]*billing.Subscription
	customers map[string]*billing.Customer
	canceled  []string
	updates   []string
	cancelErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subs:      make(map[string]*billing.Subscription),
		customers: make(map[string]*billing.Customer),
	}
}

func (p *fakeProvider) addSubscription(sub billing.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[sub.ID] = &sub
}

func (p *fakeProvider) addCustomer(id, userID string, deleted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &billing.Customer{ID: id, Deleted: deleted}
	if userID != "" {
		c.Metadata = map[string]string{billing.UserIDMetadataKey: userID}
	}
	p.customers[id] = c
}

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[id]
	if !ok {
		return nil, fmt.Errorf("billing: no such subscription: %s", id)
	}
	out := *sub
	return &out, nil
}

func (p *fakeProvider) SetCancelAtPeriodEnd(_ context.Context, id string, cancel bool) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[id]
	if !ok {
		return nil, fmt.Errorf("billing: no such subscription: %s", id)
	}
	p.updates = append(p.updates, id)
	sub.CancelAtPeriodEnd = cancel
	out := *sub
	return &out, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = append(p.canceled, id)
	if p.cancelErr != nil {
		return p.cancelErr
	}
	if sub, ok := p.subs[id]; ok {
		sub.Status = models.StatusCanceled
	}
	return nil
}

func (p *fakeProvider) GetCustomer(_ context.Context, id string) (*billing.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.customers[id]
	if !ok {
		return nil, fmt.Errorf("billing: no such customer: %s", id)
	}
	return c, nil
}

func (p *fakeProvider) Ping(context.Context) error { return nil }

func (p *fakeProvider) canceledIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.canceled...)
}

func (p *fakeProvider) updateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

// recordingPublisher keeps every published change.
type recordingPublisher struct {
	mu      sync.Mutex
	changes []SubscriptionChange
}

func (p *recordingPublisher) Publish(_ context.Context, change SubscriptionChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

func (p *recordingPublisher) all() []SubscriptionChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SubscriptionChange(nil), p.changes...)
}

func countSubscriptions(t *testing.T, store *database.Store) int64 {
	t.Helper()
	var count int64
	require.NoError(t, store.DB().Unscoped().Model(&models.Subscription{}).Count(&count).Error)
	return count
}
