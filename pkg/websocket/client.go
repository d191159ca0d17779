package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client represents a WebSocket client connection
type Client struct {
	ID            string
	ActorID       string
	Role          string // "rider" or "driver"
	Hub           *Hub
	Conn          *websocket.Conn
	Send          chan []byte
	subscriptions map[string]bool // rideIDs this client is subscribed to
	mu            sync.RWMutex
	logger        *logger.Logger
}

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type   string          `json:"type"`
	RideID string          `json:"ride_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, actorID, role string, log *logger.Logger) *Client {
	return &Client{
		ID:            uuid.NewString(),
		ActorID:       actorID,
		Role:          role,
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan []byte, hub.cfg.SendBufferSize),
		subscriptions: make(map[string]bool),
		logger:        log,
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub. Frames
// from one connection are handled in arrival order.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	pongWait := c.Hub.cfg.PongWait
	c.Conn.SetReadLimit(c.Hub.cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error",
					logger.Err(err),
					logger.String("client_id", c.ID),
				)
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection. Each
// event is written as its own text frame, in enqueue order.
func (c *Client) WritePump() {
	writeWait := c.Hub.cfg.WriteWait
	ticker := time.NewTicker(c.Hub.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("Failed to unmarshal client message",
			logger.Err(err),
			logger.String("client_id", c.ID),
		)
		c.reply("error", map[string]string{"code": "INVALID_INPUT", "message": "malformed frame"})
		return
	}

	switch msg.Type {
	case "subscribe":
		if c.Hub.guard != nil && !c.Hub.guard(c.ActorID, msg.RideID) {
			c.reply("error", map[string]string{"command": msg.Type, "code": "FORBIDDEN", "message": "not a participant of this ride"})
			return
		}
		c.Subscribe(msg.RideID)
	case "unsubscribe":
		c.Unsubscribe(msg.RideID)
	case "ping":
		c.reply("pong", nil)
	default:
		if c.Hub.handler == nil {
			c.logger.Warn("Unknown message type",
				logger.String("type", msg.Type),
				logger.String("client_id", c.ID),
			)
			return
		}
		c.Hub.handler(c.ActorID, c.Role, msg.Type, msg.Data)
	}
}

// reply goes through the hub so a superseded client never writes to a
// closed channel.
func (c *Client) reply(eventType string, payload interface{}) {
	if err := c.Hub.Send(c.ActorID, eventType, payload); err != nil {
		c.logger.Debug("Reply dropped",
			logger.String("client_id", c.ID),
			logger.String("type", eventType),
		)
	}
}

// Subscribe subscribes the client to a ride
func (c *Client) Subscribe(rideID string) {
	if rideID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[rideID] = true
	c.logger.Debug("Client subscribed to ride",
		logger.String("client_id", c.ID),
		logger.String("ride_id", rideID),
	)
}

// Unsubscribe unsubscribes the client from a ride
func (c *Client) Unsubscribe(rideID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, rideID)
}

// IsSubscribedToRide checks if client is subscribed to a ride
func (c *Client) IsSubscribedToRide(rideID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[rideID]
}
