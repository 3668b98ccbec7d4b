package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already ran in the middleware; the origin check adds
	// nothing for a bearer-authenticated socket.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	feedWriteTimeout = 10 * time.Second
	feedPingInterval = 30 * time.Second
)

// handleRealtimeFeed upgrades the request and streams the caller's feed
// events until the client disconnects.
func (h *httpHandler) handleRealtimeFeed(c *gin.Context) {
	userID := h.currentUserID(c)

	connection, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer connection.Close()

	events, cancel := h.deps.Dispatcher.Subscribe(userID)
	defer cancel()

	// Drain client frames so close and pong frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			connection.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := connection.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			connection.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
