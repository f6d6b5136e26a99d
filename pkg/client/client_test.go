package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetSubscription(t *testing.T) {
	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/subscription", r.URL.Path)
		assert.Equal(t, "u 1", r.URL.Query().Get("userId"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"subscription": Subscription{
				UserID:               "u 1",
				StripeSubscriptionID: "sub_1",
				Status:               "active",
				CurrentPeriodEnd:     end,
			},
		})
	}))
	defer srv.Close()

	sub, err := New(srv.URL).GetSubscription(context.Background(), "u 1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
	assert.True(t, sub.CurrentPeriodEnd.Equal(end))
}

func TestClient_GetSubscriptionNull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","subscription":null}`))
	}))
	defer srv.Close()

	sub, err := New(srv.URL).GetSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestClient_SyncError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sub_1", body["subscriptionId"])
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to sync subscription","details":"boom"}`))
	}))
	defer srv.Close()

	err := New(srv.URL).Sync(context.Background(), "sub_1")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "Failed to sync subscription", apiErr.Message)
	assert.Equal(t, "boom", apiErr.Details)
}

func TestClient_Updates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/subscription/updates", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(Change{Type: "upsert", UserID: r.URL.Query().Get("userId"),
			Subscription: &Subscription{StripeSubscriptionID: "sub_1", Status: "active"}})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes, err := New(srv.URL).Updates(ctx, "u1")
	require.NoError(t, err)

	var got []Change
	for change := range changes {
		got = append(got, change)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "sub_1", got[0].Subscription.StripeSubscriptionID)
}

func TestSubscription_IsEntitled(t *testing.T) {
	now := time.Now()
	assert.False(t, (*Subscription)(nil).IsEntitled(now))
	assert.True(t, (&Subscription{Status: "trialing", CurrentPeriodEnd: now.Add(time.Hour)}).IsEntitled(now))
	assert.False(t, (&Subscription{Status: "active", CurrentPeriodEnd: now.Add(-time.Hour)}).IsEntitled(now))
	assert.False(t, (&Subscription{Status: "past_due", CurrentPeriodEnd: now.Add(time.Hour)}).IsEntitled(now))
}
