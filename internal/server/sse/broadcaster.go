// Package sse provides a read-only Server-Sent Events transport. Each stream
// follows exactly one server, taken from the request path.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/pkg/errors"
)

// keepAlive is the interval between comment frames that keep proxies from
// closing idle streams.
const keepAlive = 25 * time.Second

// Broadcaster serves SSE streams and registers them with the event registry.
type Broadcaster struct {
	registry  *events.Registry
	queueSize int
	logger    *zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster(registry *events.Registry, queueSize int, logger *zerolog.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Broadcaster{
		registry:  registry,
		queueSize: queueSize,
		logger:    logger,
		clients:   make(map[*Client]struct{}),
	}
}

// Client is one SSE stream. It implements events.Conn.
type Client struct {
	id       string
	serverID string
	send     chan []byte
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func newClient(serverID string, queueSize int) *Client {
	return &Client{
		id:       uuid.NewString(),
		serverID: serverID,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// ID returns the stream id.
func (c *Client) ID() string { return c.id }

// Alive reports whether the stream is still open.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send queues data without blocking; a full queue closes the stream.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrConnectionClosed
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		_ = c.Close()
		return errors.ErrSlowConsumer
	}
}

// Close ends the stream.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// ServeHTTP streams the events of the server named by the {serverID} path
// value until the client goes away or the stream is closed.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serverID := r.PathValue("serverID")
	if serverID == "" {
		http.Error(w, "server id required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	client := newClient(serverID, b.queueSize)
	if !b.track(client) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	b.registry.Register(serverID, client)
	defer func() {
		b.registry.Unregister(serverID, client)
		_ = client.Close()
		b.untrack(client)
	}()

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {\"serverId\":%q}\n\n", serverID)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case data := <-client.send:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-client.done:
			return

		case <-r.Context().Done():
			return
		}
	}
}

func (b *Broadcaster) track(c *Client) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.clients[c] = struct{}{}
	total := len(b.clients)
	b.mu.Unlock()

	b.logger.Info().
		Str("client_id", c.id).
		Str("server_id", c.serverID).
		Int("total_clients", total).
		Msg("SSE client connected")
	return true
}

func (b *Broadcaster) untrack(c *Client) {
	b.mu.Lock()
	delete(b.clients, c)
	total := len(b.clients)
	b.mu.Unlock()

	b.logger.Info().
		Str("client_id", c.id).
		Int("total_clients", total).
		Msg("SSE client disconnected")
}

// ClientCount returns the number of connected SSE clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close ends every open stream and refuses new ones. Streams are plain
// requests, so they must end before http.Server.Shutdown can finish draining.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
	b.logger.Info().Int("clients", len(clients)).Msg("SSE broadcaster closed")
}

// Closed reports whether Close has been called.
func (b *Broadcaster) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
