package notifier

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat4all/internal/logger"
	"chat4all/pkg/models"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler exposes the hub over ws://.../v1/status/stream?userId=...
// Each connection gets its own session; the write loop drains the session
// buffer while the read loop watches for the client going away.
type WebSocketHandler struct {
	hub    *Hub
	logger logger.Logger
}

func NewWebSocketHandler(hub *Hub, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: log}
}

func (h *WebSocketHandler) Handle(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	session := h.hub.Register(userID)
	h.logger.Infow("WebSocket client connected", "user_id", userID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer func() {
		cancel()
		h.hub.Deregister(session)
		conn.Close()
		h.logger.Infow("WebSocket client disconnected", "user_id", userID)
	}()

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	// The stream is one-way. The read loop only consumes control frames and
	// reports the peer closing the connection.
	go func() {
		defer cancel()
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debugw("WebSocket read error", "user_id", userID, "error", readErr)
				}
				return
			}
		}
	}()

	h.writeLoop(ctx, conn, session)
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *Session) {
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	updates := make(chan models.StatusUpdate)
	go func() {
		defer close(updates)
		for {
			update, ok := session.Next(ctx)
			if !ok {
				return
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case update, ok := <-updates:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(update); err != nil {
				h.logger.Debugw("WebSocket write failed", "user_id", session.UserID(), "error", err)
				return
			}
		}
	}
}
