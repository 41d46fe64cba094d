package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/idleonweb/idleonweb/internal/scheduler"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// statusFeed pushes the current session and then every status change.
func (h *handlers) statusFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied
		return
	}
	defer conn.Close()

	stopPing := scheduler.Every(pingPeriod, func(context.Context) {
		_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	})
	defer stopPing()

	updates, unsubscribe := h.co.Subscribe()
	defer unsubscribe()

	// 读取循环只用于感知对端关闭
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v) == nil
	}
	if !send(h.co.Status()) {
		return
	}
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if !send(s) {
				return
			}
		case <-gone:
			return
		}
	}
}
