package services

import (
	"context"
	"sync"
	"time"

	"subscription-api/internal/billing"
	"subscription-api/internal/database"
	"subscription-api/internal/metrics"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"
)

// sweepWindow bounds how far back retired subscriptions are re-checked.
const sweepWindow = 7 * 24 * time.Hour

// AccountSweeper finishes account deletions whose provider cancel failed:
// it re-checks subscriptions retired with a deleted account and cancels any
// that the provider still reports active or trialing.
type AccountSweeper struct {
	billing  billing.Provider
	store    *database.Store
	interval time.Duration
	now      func() time.Time

	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewAccountSweeper creates a sweeper running every interval.
func NewAccountSweeper(provider billing.Provider, store *database.Store, interval time.Duration) *AccountSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &AccountSweeper{
		billing:  provider,
		store:    store,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until Stop or ctx is done.
func (s *AccountSweeper) Start(ctx context.Context) {
	s.started = true
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					logging.Errorf("Account sweep failed: %v", err)
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit.
func (s *AccountSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started {
		<-s.done
	}
}

// Sweep runs one pass and returns how many provider cancels it issued.
func (s *AccountSweeper) Sweep(ctx context.Context) (int, error) {
	retired, err := s.store.GetRetiredSubscriptions(ctx, s.now().Add(-sweepWindow))
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, sub := range retired {
		if ctx.Err() != nil {
			return canceled, ctx.Err()
		}
		remote, err := s.billing.GetSubscription(ctx, sub.StripeSubscriptionID)
		if err != nil {
			logging.Warnf("Sweeper lookup failed - subscription: %s, error: %v", sub.StripeSubscriptionID, err)
			continue
		}
		if !models.IsLive(remote.Status) {
			continue
		}
		if err := s.billing.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
			metrics.SweeperCancelsTotal.WithLabelValues("error").Inc()
			logging.Errorf("Sweeper cancel failed - subscription: %s, user: %s, error: %v", sub.StripeSubscriptionID, sub.UserID, err)
			continue
		}
		metrics.SweeperCancelsTotal.WithLabelValues("success").Inc()
		logging.Infof("Sweeper cancelled subscription %s of deleted account %s", sub.StripeSubscriptionID, sub.UserID)
		canceled++
	}
	return canceled, nil
}
