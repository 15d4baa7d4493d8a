// Package websocket is the WebSocket transport for dashboard clients.
//
// A client connects, then sends {"type":"subscribe","serverId":"..."} to start
// receiving the events of that server. Until then it is connected but receives
// nothing.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/internal/server/events"
)

// Inbound message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgSubscribed  = "subscribed"
)

// Message is the control frame exchanged with clients.
type Message struct {
	Type     string `json:"type"`
	ServerID string `json:"serverId,omitempty"`
}

// Hub adapts WebSocket clients to the event router. It tracks every open
// client, subscribed or not, and registers subscribed ones with the router's
// registry.
type Hub struct {
	registry  *events.Registry
	upgrader  websocket.Upgrader
	queueSize int
	logger    *zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// Options configures a Hub.
type Options struct {
	// QueueSize bounds each client's send queue.
	QueueSize int
	// CheckOrigin overrides the upgrader's origin check.
	CheckOrigin func(r *http.Request) bool
}

// NewHub creates a hub registering subscribed clients with registry.
func NewHub(registry *events.Registry, opts Options, logger *zerolog.Logger) *Hub {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		queueSize: opts.QueueSize,
		logger:    logger,
		clients:   make(map[*Client]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), h, conn, h.queueSize)
	h.opened(client)

	go client.WritePump()
	client.ReadPump()
}

// opened records a client in pre-subscription state.
func (h *Hub) opened(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Str("client_id", c.id).
		Int("total_clients", total).
		Msg("WebSocket client connected")
}

// HandleMessage processes one inbound frame from c. Malformed or unknown
// frames are logged and dropped.
func (h *Hub) HandleMessage(c *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Warn().Err(err).Str("client_id", c.id).Msg("Dropped malformed WebSocket message")
		return
	}

	switch msg.Type {
	case MsgSubscribe:
		h.subscribe(c, msg.ServerID)
	case MsgUnsubscribe:
		if previous := c.setServerID(""); previous != "" {
			h.registry.Unregister(previous, c)
		}
	default:
		h.logger.Warn().
			Str("client_id", c.id).
			Str("message_type", msg.Type).
			Msg("Dropped unknown WebSocket message")
	}
}

// subscribe binds c to serverID. A client follows one server at a time, so a
// second subscribe moves it.
func (h *Hub) subscribe(c *Client, serverID string) {
	if serverID == "" {
		h.logger.Warn().Str("client_id", c.id).Msg("Dropped subscribe without server id")
		return
	}

	previous := c.setServerID(serverID)
	if previous != "" && previous != serverID {
		h.registry.Unregister(previous, c)
	}
	if !h.registry.Register(serverID, c) {
		c.setServerID(previous)
		return
	}

	ack, _ := json.Marshal(Message{Type: MsgSubscribed, ServerID: serverID})
	if err := c.Send(ack); err != nil {
		h.logger.Debug().Err(err).Str("client_id", c.id).Msg("Subscribe acknowledgement not sent")
	}

	h.logger.Info().
		Str("client_id", c.id).
		Str("server_id", serverID).
		Msg("WebSocket client subscribed")
}

// disconnected handles both orderly close and read errors: the client leaves
// the registry under the last server it held and is closed.
func (h *Hub) disconnected(c *Client, err error) {
	if serverID := c.ServerID(); serverID != "" {
		h.registry.Unregister(serverID, c)
	}
	_ = c.Close()

	h.mu.Lock()
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	if err != nil {
		h.logger.Error().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
	}
	h.logger.Info().
		Str("client_id", c.id).
		Int("total_clients", total).
		Msg("WebSocket client disconnected")
}

// ClientCount returns the number of open clients, subscribed or not.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes every open client, including those that never subscribed.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		_ = c.Close()
	}
}
