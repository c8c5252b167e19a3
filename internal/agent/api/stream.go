package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/agent/lifecycle"
	"github.com/kandev/mcphost/internal/common/httpmw"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     httpmw.IsLocalOrigin,
}

// StreamEvents streams lifecycle events over a websocket
// WS /api/v1/agent/events
func (h *Handler) StreamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	log := h.logger.WithFields(zap.String("client_id", clientID))
	log.Debug("event stream connected")

	send := make(chan []byte, sendBuffer)
	status := h.controller.Status().Status
	if first, err := json.Marshal(StreamMessage{Type: "status", Status: &status}); err == nil {
		send <- first
	}

	done := make(chan struct{})
	unsubscribe := h.observable.Subscribe(func(ev lifecycle.Event) {
		data, err := json.Marshal(StreamMessage{Type: "event", Event: &ev})
		if err != nil {
			return
		}
		select {
		case send <- data:
		case <-done:
		default:
			log.Warn("event stream client too slow, dropping event", zap.String("type", string(ev.Type)))
		}
	})

	go func() {
		defer unsubscribe()
		defer close(done)
		readPump(conn)
	}()
	writePump(conn, send, done)
}

// readPump discards client frames and returns when the connection closes.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
