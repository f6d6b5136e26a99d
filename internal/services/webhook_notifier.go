package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"subscription-api/internal/models"
	"subscription-api/pkg/logging"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body.
const SignatureHeader = "X-Subscription-Signature"

// WebhookNotifier forwards subscription changes to a downstream backend.
// Deliveries run in the background and are retried on failure.
type WebhookNotifier struct {
	httpClient  *http.Client
	callbackURL string
	secret      string
	retryDelays []time.Duration
	wg          sync.WaitGroup
}

// NewWebhookNotifier creates a notifier posting to callbackURL. The body is
// signed when secret is not empty.
func NewWebhookNotifier(callbackURL, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		callbackURL: callbackURL,
		secret:      secret,
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// WebhookPayload is the body sent downstream.
type WebhookPayload struct {
	Event                string `json:"event"` // subscription.updated or subscription.deleted
	UserID               string `json:"user_id"`
	StripeCustomerID     string `json:"stripe_customer_id"`
	StripeSubscriptionID string `json:"stripe_subscription_id"`
	Status               string `json:"status"`
	PriceID              string `json:"price_id"`
	CancelAtPeriodEnd    bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd     string `json:"current_period_end"` // RFC 3339
	Timestamp            string `json:"timestamp"`
}

func newWebhookPayload(change SubscriptionChange) WebhookPayload {
	sub := change.Subscription
	if sub == nil {
		sub = &models.Subscription{UserID: change.UserID}
	}
	event := "subscription.updated"
	if change.Type == ChangeDelete {
		event = "subscription.deleted"
	}
	return WebhookPayload{
		Event:                event,
		UserID:               sub.UserID,
		StripeCustomerID:     sub.StripeCustomerID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		Status:               sub.Status,
		PriceID:              sub.PriceID,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),
		Timestamp:            change.At.UTC().Format(time.RFC3339),
	}
}

// Publish queues the change for delivery and returns immediately.
func (wn *WebhookNotifier) Publish(_ context.Context, change SubscriptionChange) error {
	if wn.callbackURL == "" {
		return nil
	}

	payload := newWebhookPayload(change)
	wn.wg.Add(1)
	go func() {
		defer wn.wg.Done()
		wn.sendWithRetry(payload)
	}()
	return nil
}

// Wait blocks until queued deliveries finish.
func (wn *WebhookNotifier) Wait() {
	wn.wg.Wait()
}

// sendWithRetry makes the first attempt right away and one retry after each
// delay in retryDelays.
func (wn *WebhookNotifier) sendWithRetry(payload WebhookPayload) {
	maxAttempts := len(wn.retryDelays) + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(wn.retryDelays[attempt-1])
		}

		err := wn.sendWebhook(payload)
		if err == nil {
			logging.Infof("Webhook notification sent successfully - url: %s, subscription: %s, attempt: %d",
				wn.callbackURL, payload.StripeSubscriptionID, attempt+1)
			return
		}

		logging.Errorf("Webhook notification failed - url: %s, subscription: %s, attempt: %d, error: %v",
			wn.callbackURL, payload.StripeSubscriptionID, attempt+1, err)
	}

	logging.Errorf("Webhook notification failed after %d attempts - url: %s, subscription: %s",
		maxAttempts, wn.callbackURL, payload.StripeSubscriptionID)
}

func (wn *WebhookNotifier) sendWebhook(payload WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, wn.callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Subscription-Webhook/1.0")

	if wn.secret != "" {
		req.Header.Set(SignatureHeader, SignPayload(jsonData, wn.secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// FanoutPublisher publishes every change to each of its publishers.
type FanoutPublisher []ChangePublisher

func (f FanoutPublisher) Publish(ctx context.Context, change SubscriptionChange) error {
	var firstErr error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, change); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
