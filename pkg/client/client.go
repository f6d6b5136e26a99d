package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Subscription is the API's view of a subscription row.
type Subscription struct {
	ID                   uint      `json:"id"`
	UserID               string    `json:"user_id"`
	StripeCustomerID     string    `json:"stripe_customer_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
	PriceID              string    `json:"price_id,omitempty"`
	Status               string    `json:"status"`
	CancelAtPeriodEnd    bool      `json:"cancel_at_period_end"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// IsEntitled reports whether the subscription grants access at now.
func (s *Subscription) IsEntitled(now time.Time) bool {
	if s == nil {
		return false
	}
	return (s.Status == "active" || s.Status == "trialing") && s.CurrentPeriodEnd.After(now)
}

// Change is one message from the updates feed.
type Change struct {
	Type         string        `json:"type"`
	UserID       string        `json:"user_id"`
	Subscription *Subscription `json:"subscription"`
	At           time.Time     `json:"at"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Client calls the subscription API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
}

// GetSubscription returns the user's entitling subscription, or nil.
func (c *Client) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	var out struct {
		Subscription *Subscription `json:"subscription"`
	}
	path := "/api/subscription?userId=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Subscription, nil
}

// Sync asks the API to pull the provider's state of a subscription.
func (c *Client) Sync(ctx context.Context, subscriptionID string) error {
	return c.do(ctx, http.MethodPost, "/api/subscription/sync", map[string]string{"subscriptionId": subscriptionID}, nil)
}

// Updates opens the websocket change feed for userID. The channel closes
// when ctx is done or the connection drops.
func (c *Client) Updates(ctx context.Context, userID string) (<-chan Change, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/subscription/updates?userId=" + url.QueryEscape(userID)
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial updates: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	out := make(chan Change)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(done)
		for {
			var change Change
			if err := conn.ReadJSON(&change); err != nil {
				return
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
