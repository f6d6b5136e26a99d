package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"subscription-api/internal/billing"
	"subscription-api/internal/database"
	"subscription-api/internal/models"
	"subscription-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_handler_test"

type fakeProvider struct {
	mu        sync.Mutex
	subs      map[string]*billing.Subscription
	customers map[string]*billing.Customer
	canceled  []string
	getErr    error
	pingErr   error
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

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
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
	sub.CancelAtPeriodEnd = cancel
	out := *sub
	return &out, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = append(p.canceled, id)
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

func (p *fakeProvider) Ping(context.Context) error { return p.pingErr }

type testServer struct {
	router   *gin.Engine
	store    *database.Store
	provider *fakeProvider
	feed     *services.MemoryChangeFeed
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := database.NewStore(db)
	provider := newFakeProvider()
	pairings := services.NewMemoryPairingStore(time.Hour)
	ledger := services.NewReplayProtection(time.Hour)
	t.Cleanup(pairings.Stop)
	t.Cleanup(ledger.Stop)
	feed := services.NewMemoryChangeFeed()

	h := &Handler{
		Reconciler: services.NewSubscriptionReconciler(provider, store, pairings,
			services.WithEventLedger(ledger),
			services.WithChangePublisher(feed),
		),
		Trials:        services.NewTrialService(store, 48*time.Hour),
		Users:         services.NewUserService(store),
		Store:         store,
		Feed:          feed,
		Billing:       provider,
		WebhookSecret: testWebhookSecret,
		KeyPrefix:     "sk_test_...",
		ServiceName:   "subscription-service",
	}

	r := gin.New()
	SetupRoutes(r, h)
	return &testServer{router: r, store: store, provider: provider, feed: feed}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) seed(t *testing.T, sub models.Subscription) {
	t.Helper()
	require.NoError(t, s.store.CreateOrUpdateSubscription(context.Background(), &sub))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

var errProviderDown = errors.New("stripe: api unavailable")
