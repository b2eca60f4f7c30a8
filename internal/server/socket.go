package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/syncdesk/backend/internal/collab"
	"github.com/syncdesk/backend/internal/users"
)

const (
	socketWriteWait      = 10 * time.Second
	socketPongWait       = 60 * time.Second
	socketPingPeriod     = (socketPongWait * 9) / 10
	socketMaxMessageSize = 64 * 1024
	socketSendBuffer     = 256
)

var errSendBufferFull = errors.New("connection send buffer full")

type socketUpgrader struct {
	upgrader websocket.Upgrader
}

func newSocketUpgrader(allowedOrigins []string) socketUpgrader {
	allowAll := false
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		origins[origin] = struct{}{}
	}
	return socketUpgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients send no Origin header.
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// socketEnvelope is the wire shape of every inbound message.
type socketEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (h *httpHandler) handleSocket(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.directory.Lookup(c.Request.Context(), userID); err != nil {
		if errors.Is(err, users.ErrUnknownUser) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown_user"})
			return
		}
		h.logger.Error("identity lookup failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_lookup_failed"})
		return
	}
	if err := h.directory.TouchLastSeen(c.Request.Context(), userID); err != nil {
		h.logger.Warn("last seen update failed", zap.String("user_id", userID), zap.Error(err))
	}

	socket, err := h.upgrader.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := newSocketClient(uuid.NewString(), userID, socket, h.coordinator, h.shutdown, h.logger)
	h.coordinator.Connect(client.collabConn)
	go client.writePump()
	client.readPump()
}

// socketClient owns one websocket connection. It implements collab.Sender
// through a buffered channel so broadcast fan-out never blocks on a slow
// peer; a peer that cannot drain its buffer loses messages rather than
// stalling the room.
type socketClient struct {
	id          string
	userID      string
	socket      *websocket.Conn
	send        chan collab.Event
	done        chan struct{}
	closeOnce   sync.Once
	coordinator *collab.Coordinator
	shutdown    <-chan struct{}
	logger      *zap.Logger
	collabConn  *collab.Conn
}

func newSocketClient(id, userID string, socket *websocket.Conn, coordinator *collab.Coordinator, shutdown <-chan struct{}, logger *zap.Logger) *socketClient {
	client := &socketClient{
		id:          id,
		userID:      userID,
		socket:      socket,
		send:        make(chan collab.Event, socketSendBuffer),
		done:        make(chan struct{}),
		coordinator: coordinator,
		shutdown:    shutdown,
		logger:      logger,
	}
	client.collabConn = collab.NewConn(id, userID, client)
	return client
}

// Send queues an event for the write pump.
func (c *socketClient) Send(event collab.Event) error {
	select {
	case c.send <- event:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	default:
		return errSendBufferFull
	}
}

func (c *socketClient) readPump() {
	defer func() {
		c.coordinator.Disconnect(context.Background(), c.id)
		c.close()
	}()

	c.socket.SetReadLimit(socketMaxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(socketPongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed",
					zap.String("conn_id", c.id), zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var envelope socketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Type == "" {
			c.sendProtocolError("message must be a {type, payload} object")
			continue
		}
		c.coordinator.HandleEvent(context.Background(), c.collabConn, envelope.Type, envelope.Payload)
	}
}

func (c *socketClient) writePump() {
	ticker := time.NewTicker(socketPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := c.socket.WriteJSON(event); err != nil {
				c.logger.Debug("websocket write failed",
					zap.String("conn_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.shutdown:
			_ = c.socket.SetWriteDeadline(time.Now().Add(socketWriteWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-c.done:
			return
		}
	}
}

func (c *socketClient) sendProtocolError(message string) {
	if err := c.Send(collab.Event{
		Type: collab.EventCollaborationError,
		Payload: collab.ErrorPayload{
			Code:      collab.CodeProtocolError,
			Message:   message,
			Timestamp: time.Now().UTC().Unix(),
		},
	}); err != nil {
		c.logger.Debug("protocol error send failed", zap.String("conn_id", c.id), zap.Error(err))
	}
}

func (c *socketClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.socket.Close()
	})
}
