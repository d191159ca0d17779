package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/internal/metrics"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// Config tunes client connections
type Config struct {
	SendBufferSize int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	return c
}

// FrameHandler receives inbound frames that the hub does not handle itself.
type FrameHandler func(actorID, role, msgType string, data json.RawMessage)

// LifecycleHook is called when an actor's channel opens or closes.
type LifecycleHook func(actorID, role string)

// SubscribeGuard decides whether an actor may follow a ride's events.
type SubscribeGuard func(actorID, rideID string) bool

// Hub owns one live channel per actor and routes outbound events to them.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	cfg        Config
	logger     *logger.Logger

	onConnect    LifecycleHook
	onDisconnect LifecycleHook
	handler      FrameHandler
	guard        SubscribeGuard
}

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewHub creates a new WebSocket hub
func NewHub(cfg Config, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		cfg:        cfg.withDefaults(),
		logger:     log.Named("ws-hub"),
	}
}

// OnConnect sets the hook run after an actor's channel is registered.
func (h *Hub) OnConnect(fn LifecycleHook) { h.onConnect = fn }

// OnDisconnect sets the hook run after an actor's last channel closes.
func (h *Hub) OnDisconnect(fn LifecycleHook) { h.onDisconnect = fn }

// HandleFrames sets the handler for inbound command frames.
func (h *Hub) HandleFrames(fn FrameHandler) { h.handler = fn }

// GuardSubscriptions restricts client-initiated ride subscriptions.
func (h *Hub) GuardSubscriptions(fn SubscribeGuard) { h.guard = fn }

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			previous, superseded := h.clients[client.ActorID]
			if superseded {
				close(previous.Send)
			}
			h.clients[client.ActorID] = client
			h.mu.Unlock()

			if !superseded {
				metrics.WSConnections.Inc()
			}
			h.logger.Info("Client registered",
				logger.String("client_id", client.ID),
				logger.String("actor_id", client.ActorID),
				logger.String("role", client.Role),
				logger.Bool("superseded", superseded),
			)
			if h.onConnect != nil {
				h.onConnect(client.ActorID, client.Role)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			current, ok := h.clients[client.ActorID]
			owned := ok && current == client
			if owned {
				delete(h.clients, client.ActorID)
				close(client.Send)
			}
			h.mu.Unlock()

			if !owned {
				continue
			}
			metrics.WSConnections.Dec()
			h.logger.Info("Client unregistered",
				logger.String("client_id", client.ID),
				logger.String("actor_id", client.ActorID),
			)
			if h.onDisconnect != nil {
				h.onDisconnect(client.ActorID, client.Role)
			}

		case <-h.done:
			h.mu.Lock()
			for actorID, client := range h.clients {
				close(client.Send)
				delete(h.clients, actorID)
				metrics.WSConnections.Dec()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every channel and ends Run.
func (h *Hub) Stop() {
	close(h.done)
}

// Register registers a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister unregisters a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Send enqueues one event for an actor. It never blocks: an offline actor or
// a full buffer yields CHANNEL_UNAVAILABLE and the event is dropped.
func (h *Hub) Send(actorID, eventType string, payload interface{}) error {
	data, err := json.Marshal(Message{Type: eventType, Data: payload})
	if err != nil {
		return apperrors.Internal("failed to encode event", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[actorID]
	if !ok {
		metrics.WSMessagesDropped.WithLabelValues("offline").Inc()
		return apperrors.ErrChannelUnavailable
	}
	if !h.enqueue(client, data) {
		return apperrors.ErrChannelUnavailable
	}
	return nil
}

// BroadcastToCandidates sends one offer-style event to a fixed set of actors
// and reports how many were delivered.
func (h *Hub) BroadcastToCandidates(rideID string, actorIDs []string, eventType string, payload interface{}) int {
	data, err := json.Marshal(Message{Type: eventType, Data: payload})
	if err != nil {
		h.logger.Error("Failed to marshal candidate broadcast", logger.Err(err), logger.String("ride_id", rideID))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, actorID := range actorIDs {
		client, ok := h.clients[actorID]
		if !ok {
			metrics.WSMessagesDropped.WithLabelValues("offline").Inc()
			continue
		}
		if h.enqueue(client, data) {
			delivered++
		}
	}
	return delivered
}

// BroadcastToRide sends a message to all participants of a ride
func (h *Hub) BroadcastToRide(rideID, eventType string, payload interface{}) int {
	data, err := json.Marshal(Message{Type: eventType, Data: payload})
	if err != nil {
		h.logger.Error("Failed to marshal ride message", logger.Err(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, client := range h.clients {
		if client.IsSubscribedToRide(rideID) && h.enqueue(client, data) {
			delivered++
		}
	}
	return delivered
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(client *Client, data []byte) bool {
	select {
	case client.Send <- data:
		return true
	default:
		metrics.WSMessagesDropped.WithLabelValues("buffer_full").Inc()
		h.logger.Warn("Client send buffer full",
			logger.String("actor_id", client.ActorID),
			logger.String("client_id", client.ID),
		)
		return false
	}
}

// Subscribe attaches an online actor to a ride's event stream. Offline actors
// are resubscribed when they reconnect.
func (h *Hub) Subscribe(actorID, rideID string) {
	h.mu.RLock()
	client, ok := h.clients[actorID]
	h.mu.RUnlock()
	if ok {
		client.Subscribe(rideID)
	}
}

// Unsubscribe detaches an actor from a ride's event stream.
func (h *Hub) Unsubscribe(actorID, rideID string) {
	h.mu.RLock()
	client, ok := h.clients[actorID]
	h.mu.RUnlock()
	if ok {
		client.Unsubscribe(rideID)
	}
}

// IsOnline reports whether the actor has a live channel.
func (h *Hub) IsOnline(actorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[actorID]
	return ok
}

// ActiveConnections returns the number of active connections
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CountByRole returns count of clients by role
func (h *Hub) CountByRole(role string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, client := range h.clients {
		if client.Role == role {
			count++
		}
	}
	return count
}
