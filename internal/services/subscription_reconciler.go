package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription-api/internal/billing"
	"subscription-api/internal/database"
	"subscription-api/internal/metrics"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"
)

var (
	// ErrNotCancelable is returned by Cancel for subscriptions that are
	// neither active, trialing nor already canceled.
	ErrNotCancelable = errors.New("subscription cannot be canceled in its current state")
	// ErrUserNotResolved is returned when no application user can be tied to
	// a checkout or subscription.
	ErrUserNotResolved = errors.New("unable to resolve user")
	// ErrInvalidCustomer is returned when the provider customer is deleted.
	ErrInvalidCustomer = errors.New("invalid customer")
	// ErrInvalidSession is returned for checkout sessions without a customer or subscription.
	ErrInvalidSession = errors.New("invalid session data")
	// ErrAccountUpdate is returned when the account soft-delete cannot be written.
	ErrAccountUpdate = errors.New("failed to update profile")
)

// Outcome is what HandleEvent did with an event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"

	outcomeFailed = "failed"
)

// TrialEndingNotifier tells a user their trial is about to end.
type TrialEndingNotifier interface {
	NotifyTrialEnding(ctx context.Context, user *models.User, subscription *models.Subscription) error
}

// CancelResult is the outcome of Cancel.
type CancelResult struct {
	AlreadyCanceled bool
	Subscription    *billing.Subscription
}

// SubscriptionReconciler keeps the local subscriptions table in line with
// the billing provider.
type SubscriptionReconciler struct {
	billing  billing.Provider
	store    *database.Store
	pairings PairingStore
	ledger   EventLedger
	feed     ChangePublisher
	notifier TrialEndingNotifier
	now      func() time.Time
}

// ReconcilerOption configures optional collaborators.
type ReconcilerOption func(*SubscriptionReconciler)

// WithEventLedger enables webhook event de-duplication.
func WithEventLedger(ledger EventLedger) ReconcilerOption {
	return func(r *SubscriptionReconciler) { r.ledger = ledger }
}

// WithChangePublisher publishes every successful write.
func WithChangePublisher(feed ChangePublisher) ReconcilerOption {
	return func(r *SubscriptionReconciler) { r.feed = feed }
}

// WithTrialEndingNotifier sends a notice on trial_will_end events.
func WithTrialEndingNotifier(notifier TrialEndingNotifier) ReconcilerOption {
	return func(r *SubscriptionReconciler) { r.notifier = notifier }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *SubscriptionReconciler) { r.now = now }
}

// NewSubscriptionReconciler creates a reconciler.
func NewSubscriptionReconciler(provider billing.Provider, store *database.Store, pairings PairingStore, opts ...ReconcilerOption) *SubscriptionReconciler {
	r := &SubscriptionReconciler{
		billing:  provider,
		store:    store,
		pairings: pairings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent applies one verified webhook event.
func (r *SubscriptionReconciler) HandleEvent(ctx context.Context, event billing.Event) (Outcome, error) {
	meta := event.Meta()
	if r.ledger != nil {
		seen, err := r.ledger.Seen(ctx, meta.ID)
		if err != nil {
			logging.Warnf("Event ledger lookup failed - event_id: %s, error: %v", meta.ID, err)
		} else if seen {
			return OutcomeDuplicate, nil
		}
	}

	var (
		outcome Outcome
		err     error
	)
	switch e := event.(type) {
	case *billing.CheckoutCompletedEvent:
		outcome, err = r.handleCheckoutCompleted(ctx, e)
	case *billing.SubscriptionEvent:
		outcome, err = r.handleSubscriptionEvent(ctx, e)
	case *billing.IgnoredEvent:
		logging.Debugf("Ignoring event - event_id: %s, type: %s", e.ID, e.Type)
		outcome = OutcomeIgnored
	default:
		return "", fmt.Errorf("unsupported event %T", event)
	}
	r.audit(ctx, event, outcome, err)
	if err != nil {
		return outcome, err
	}

	if r.ledger != nil {
		if err := r.ledger.Record(ctx, meta.ID); err != nil {
			logging.Warnf("Failed to record event - event_id: %s, error: %v", meta.ID, err)
		}
	}
	return outcome, nil
}

// audit writes the event's result to the webhook_events table.
func (r *SubscriptionReconciler) audit(ctx context.Context, event billing.Event, outcome Outcome, handleErr error) {
	meta := event.Meta()
	if meta.ID == "" {
		return
	}
	row := &models.WebhookEvent{
		EventID:     meta.ID,
		EventType:   meta.Type,
		Outcome:     string(outcome),
		ProcessedAt: r.now(),
	}
	switch e := event.(type) {
	case *billing.CheckoutCompletedEvent:
		row.StripeSubscriptionID = e.SubscriptionID
	case *billing.SubscriptionEvent:
		row.StripeSubscriptionID = e.Subscription.ID
	}
	if handleErr != nil {
		row.Outcome = outcomeFailed
		row.Error = handleErr.Error()
	}
	if err := r.store.RecordWebhookEvent(ctx, row); err != nil {
		logging.Warnf("Failed to audit event - event_id: %s, error: %v", meta.ID, err)
	}
}

func (r *SubscriptionReconciler) handleCheckoutCompleted(ctx context.Context, e *billing.CheckoutCompletedEvent) (Outcome, error) {
	logging.Infof("Processing checkout.session.completed - session: %s, customer: %s, subscription: %s",
		e.SessionID, e.CustomerID, e.SubscriptionID)

	if e.CustomerID != "" {
		live, err := r.store.HasLiveSubscriptionForCustomer(ctx, e.CustomerID, e.SubscriptionID)
		if err != nil {
			return "", fmt.Errorf("check existing subscription for %s: %w", e.CustomerID, err)
		}
		if live {
			logging.Warnf("Duplicate subscription attempt blocked - customer: %s, session: %s", e.CustomerID, e.SessionID)
			if e.SubscriptionID != "" {
				if err := r.billing.CancelSubscription(ctx, e.SubscriptionID); err != nil {
					return "", err
				}
				r.retireBlocked(ctx, e.SubscriptionID)
			}
			return OutcomeBlocked, nil
		}
	}

	if e.CustomerID == "" || e.SubscriptionID == "" {
		return "", fmt.Errorf("%w: session %s", ErrInvalidSession, e.SessionID)
	}

	userID := e.ClientReferenceID
	if userID == "" {
		customer, err := r.billing.GetCustomer(ctx, e.CustomerID)
		if err != nil {
			return "", err
		}
		if !customer.Deleted {
			userID = customer.UserID()
		}
	}
	if userID == "" {
		return "", fmt.Errorf("%w: checkout session %s", ErrUserNotResolved, e.SessionID)
	}

	pairing := Pairing{Checkout: &PendingCheckout{UserID: userID, CustomerID: e.CustomerID}}
	if err := r.pairings.Put(ctx, e.SubscriptionID, pairing); err != nil {
		logging.Warnf("Failed to store checkout pairing - subscription: %s, error: %v", e.SubscriptionID, err)
	}

	remote, err := r.billing.GetSubscription(ctx, e.SubscriptionID)
	if err != nil {
		return "", err
	}
	if _, err := r.upsert(ctx, remote, userID, e.CustomerID); err != nil {
		return "", err
	}

	r.clearPairing(ctx, e.SubscriptionID)
	return OutcomeProcessed, nil
}

// retireBlocked marks a row that an earlier subscription event created for a
// blocked checkout as canceled, so the customer keeps a single live row.
func (r *SubscriptionReconciler) retireBlocked(ctx context.Context, subscriptionID string) {
	existing, err := r.store.GetSubscriptionByStripeID(ctx, subscriptionID)
	if err != nil {
		if !database.IsNotFound(err) {
			logging.Warnf("Blocked subscription lookup failed - subscription: %s, error: %v", subscriptionID, err)
		}
		return
	}
	if existing.IsSoftDeleted() || existing.Status == models.StatusCanceled {
		return
	}
	row, err := r.store.UpdateSubscriptionState(ctx, subscriptionID, database.SubscriptionState{
		Status:           models.StatusCanceled,
		CurrentPeriodEnd: r.now().UTC(),
	})
	if err != nil {
		logging.Warnf("Provider canceled but local row not retired - subscription: %s, error: %v", subscriptionID, err)
		return
	}
	r.publish(ctx, row)
}

func (r *SubscriptionReconciler) handleSubscriptionEvent(ctx context.Context, e *billing.SubscriptionEvent) (Outcome, error) {
	state := e.Subscription
	if e.Kind == billing.KindDeleted {
		state.CancelAtPeriodEnd = false
		state.CurrentPeriodEnd = r.now().UTC()
	}

	existing, err := r.store.GetSubscriptionByStripeID(ctx, state.ID)
	if err != nil && !database.IsNotFound(err) {
		return "", fmt.Errorf("look up subscription %s: %w", state.ID, err)
	}

	var row *models.Subscription
	if err == nil {
		if existing.IsSoftDeleted() {
			logging.Infof("Skipping %s for retired subscription %s", e.Kind, state.ID)
			return OutcomeProcessed, nil
		}
		row, err = r.store.UpdateSubscriptionState(ctx, state.ID, database.SubscriptionState{
			Status:            state.Status,
			CancelAtPeriodEnd: state.CancelAtPeriodEnd,
			CurrentPeriodEnd:  state.CurrentPeriodEnd,
		})
		if err != nil {
			return "", err
		}
		r.publish(ctx, row)
	} else {
		var outcome Outcome
		row, outcome, err = r.insertFromProvider(ctx, e.Kind, state)
		if err != nil || outcome != OutcomeProcessed {
			return outcome, err
		}
	}

	if e.Kind == billing.KindTrialWillEnd {
		r.notifyTrialEnding(ctx, row)
	}
	return OutcomeProcessed, nil
}

// insertFromProvider creates the row for a subscription event that arrived
// before any local row existed. The owner comes from a checkout pairing or
// the customer metadata; without one a stub is parked in the pairing store.
func (r *SubscriptionReconciler) insertFromProvider(ctx context.Context, kind billing.SubscriptionEventKind, state billing.Subscription) (*models.Subscription, Outcome, error) {
	remote, err := r.billing.GetSubscription(ctx, state.ID)
	if err != nil {
		return nil, "", err
	}
	if kind == billing.KindDeleted {
		remote.CancelAtPeriodEnd = false
		remote.CurrentPeriodEnd = state.CurrentPeriodEnd
	}

	userID, customerID, err := r.resolveOwner(ctx, remote)
	if err != nil {
		return nil, "", err
	}
	if userID == "" {
		stub := Pairing{Subscription: &PendingSubscription{ID: remote.ID, CustomerID: customerID}}
		if err := r.pairings.Put(ctx, remote.ID, stub); err != nil {
			return nil, "", fmt.Errorf("park subscription %s: %w", remote.ID, err)
		}
		logging.Infof("Deferred subscription %s until its checkout completes", remote.ID)
		return nil, OutcomeDeferred, nil
	}

	row, err := r.upsert(ctx, remote, userID, customerID)
	if err != nil {
		return nil, "", err
	}
	r.clearPairing(ctx, remote.ID)
	return row, OutcomeProcessed, nil
}

func (r *SubscriptionReconciler) resolveOwner(ctx context.Context, remote *billing.Subscription) (userID, customerID string, err error) {
	customerID = remote.CustomerID

	pairing, found, err := r.pairings.Get(ctx, remote.ID)
	if err != nil {
		logging.Warnf("Pairing lookup failed - subscription: %s, error: %v", remote.ID, err)
	} else if found && pairing.Checkout != nil {
		if pairing.Checkout.CustomerID != "" {
			customerID = pairing.Checkout.CustomerID
		}
		return pairing.Checkout.UserID, customerID, nil
	}

	if customerID == "" {
		return "", "", nil
	}
	customer, err := r.billing.GetCustomer(ctx, customerID)
	if err != nil {
		return "", "", err
	}
	if customer.Deleted {
		return "", customerID, nil
	}
	return customer.UserID(), customerID, nil
}

// Sync pulls the provider's current state of a subscription into the local
// table. Repeating it without provider changes leaves the row unchanged.
func (r *SubscriptionReconciler) Sync(ctx context.Context, subscriptionID string) (err error) {
	defer func() { metrics.ObserveOperation("sync", err) }()

	remote, err := r.billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	existing, err := r.store.GetSubscriptionByStripeID(ctx, subscriptionID)
	switch {
	case err == nil:
		if existing.IsSoftDeleted() {
			logging.Infof("Skipping sync for retired subscription %s", subscriptionID)
			return nil
		}
		row, err := r.store.UpdateSubscriptionState(ctx, subscriptionID, database.SubscriptionState{
			Status:            remote.Status,
			CancelAtPeriodEnd: remote.CancelAtPeriodEnd,
			CurrentPeriodEnd:  remote.CurrentPeriodEnd,
		})
		if err != nil {
			return err
		}
		r.publish(ctx, row)
		return nil
	case !database.IsNotFound(err):
		return fmt.Errorf("look up subscription %s: %w", subscriptionID, err)
	}

	customer, err := r.billing.GetCustomer(ctx, remote.CustomerID)
	if err != nil {
		return err
	}
	if customer.Deleted {
		return fmt.Errorf("%w: %s", ErrInvalidCustomer, remote.CustomerID)
	}
	userID := customer.UserID()
	if userID == "" {
		return fmt.Errorf("%w: customer %s has no %s metadata", ErrUserNotResolved, remote.CustomerID, billing.UserIDMetadataKey)
	}

	_, err = r.upsert(ctx, remote, userID, remote.CustomerID)
	return err
}

// Cancel schedules cancellation at the end of the current period.
func (r *SubscriptionReconciler) Cancel(ctx context.Context, subscriptionID string) (result *CancelResult, err error) {
	defer func() { metrics.ObserveOperation("cancel", err) }()

	current, err := r.billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case models.StatusCanceled:
		return &CancelResult{AlreadyCanceled: true}, nil
	case models.StatusActive, models.StatusTrialing:
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCancelable, subscriptionID, current.Status)
	}

	updated, err := r.billing.SetCancelAtPeriodEnd(ctx, subscriptionID, true)
	if err != nil {
		return nil, err
	}
	r.mirrorCancelFlag(ctx, updated)
	return &CancelResult{Subscription: updated}, nil
}

// Reactivate clears a scheduled cancellation.
func (r *SubscriptionReconciler) Reactivate(ctx context.Context, subscriptionID string) (sub *billing.Subscription, err error) {
	defer func() { metrics.ObserveOperation("reactivate", err) }()

	updated, err := r.billing.SetCancelAtPeriodEnd(ctx, subscriptionID, false)
	if err != nil {
		return nil, err
	}
	if updated.Status == models.StatusCanceled {
		logging.Warnf("Reactivated subscription %s is already canceled at the provider", subscriptionID)
	}
	r.mirrorCancelFlag(ctx, updated)
	return updated, nil
}

// mirrorCancelFlag copies the provider's cancel flag and period end to the
// local row. Failures are logged; the provider change already happened.
func (r *SubscriptionReconciler) mirrorCancelFlag(ctx context.Context, remote *billing.Subscription) {
	row, err := r.store.SetCancelAtPeriodEnd(ctx, remote.ID, remote.CancelAtPeriodEnd, remote.CurrentPeriodEnd)
	if err != nil {
		logging.Warnf("Provider updated but local mirror failed - subscription: %s, error: %v", remote.ID, err)
		return
	}
	r.publish(ctx, row)
}

// DeleteAccount cancels the user's live subscriptions at the provider and
// soft-deletes the account with all its subscription rows.
func (r *SubscriptionReconciler) DeleteAccount(ctx context.Context, userID string) (err error) {
	defer func() { metrics.ObserveOperation("delete_account", err) }()

	logging.Infof("Starting account soft-deletion for user: %s", userID)

	subs, err := r.store.GetUserSubscriptions(ctx, userID)
	if err != nil {
		logging.Errorf("Subscription fetch failed - user: %s, error: %v", userID, err)
	}
	for _, sub := range subs {
		if sub.StripeSubscriptionID == "" || !models.IsLive(sub.Status) {
			continue
		}
		if err := r.billing.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
			logging.Errorf("Provider cancellation failed - subscription: %s, error: %v", sub.StripeSubscriptionID, err)
			continue
		}
		logging.Infof("Provider subscription cancelled: %s", sub.StripeSubscriptionID)
	}

	now := r.now().UTC()
	if err := r.store.SoftDeleteAccount(ctx, userID, now); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountUpdate, err)
	}

	for i := range subs {
		subs[i].Status = models.StatusCanceled
		subs[i].DeletedAt.Time = now
		subs[i].DeletedAt.Valid = true
		r.publish(ctx, &subs[i])
	}
	logging.Infof("Account soft-deletion completed for user: %s", userID)
	return nil
}

// upsert writes the provider state for a subscription whose owner is known.
func (r *SubscriptionReconciler) upsert(ctx context.Context, remote *billing.Subscription, userID, customerID string) (*models.Subscription, error) {
	row := &models.Subscription{
		UserID:               userID,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: remote.ID,
		PriceID:              remote.PriceID,
		Status:               remote.Status,
		CancelAtPeriodEnd:    remote.CancelAtPeriodEnd,
		CurrentPeriodEnd:     remote.CurrentPeriodEnd,
	}
	if err := r.store.CreateOrUpdateSubscription(ctx, row); err != nil {
		return nil, fmt.Errorf("save subscription %s: %w", remote.ID, err)
	}
	if row.IsSoftDeleted() {
		logging.Infof("Subscription %s belongs to a deleted account, left retired", remote.ID)
		return row, nil
	}
	logging.Infof("Saved subscription %s for user %s (status: %s)", remote.ID, row.UserID, row.Status)
	r.publish(ctx, row)
	return row, nil
}

func (r *SubscriptionReconciler) clearPairing(ctx context.Context, subscriptionID string) {
	if err := r.pairings.Delete(ctx, subscriptionID); err != nil {
		logging.Warnf("Failed to clear pairing - subscription: %s, error: %v", subscriptionID, err)
	}
}

func (r *SubscriptionReconciler) publish(ctx context.Context, row *models.Subscription) {
	if r.feed == nil || row == nil {
		return
	}
	if err := r.feed.Publish(ctx, newSubscriptionChange(row, r.now())); err != nil {
		logging.Warnf("Failed to publish change - subscription: %s, error: %v", row.StripeSubscriptionID, err)
	}
}

func (r *SubscriptionReconciler) notifyTrialEnding(ctx context.Context, row *models.Subscription) {
	if r.notifier == nil || row == nil || row.IsSoftDeleted() {
		return
	}
	user, err := r.store.GetUser(ctx, row.UserID)
	if err != nil {
		logging.Warnf("Trial ending notice skipped - user: %s, error: %v", row.UserID, err)
		return
	}
	if err := r.notifier.NotifyTrialEnding(ctx, user, row); err != nil {
		logging.Warnf("Trial ending notice failed - user: %s, error: %v", row.UserID, err)
	}
}
