package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"subscription-api/internal/response"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // browser clients connect from the app origin
	},
}

var (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// SubscriptionUpdates streams the user's subscription changes over a websocket
// GET /api/subscription/updates?userId=xxx
func (h *Handler) SubscriptionUpdates(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		response.ErrorJSON(c, http.StatusBadRequest, "User ID is required")
		return
	}
	if h.Feed == nil {
		response.ErrorJSON(c, http.StatusServiceUnavailable, "Change feed unavailable")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	changes, err := h.Feed.Subscribe(ctx, userID)
	if err != nil {
		logging.Errorf("Change feed subscribe failed - user: %s, error: %v", userID, err)
		response.ErrorWithDetails(c, http.StatusInternalServerError, "Failed to subscribe to updates", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("Websocket upgrade failed - user: %s, error: %v", userID, err)
		return
	}
	defer conn.Close()

	// the reader only exists to notice the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(change); err != nil {
				logging.Debugf("Websocket write failed - user: %s, error: %v", userID, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
