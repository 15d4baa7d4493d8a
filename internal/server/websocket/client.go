package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentstation/cultivate/pkg/errors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// DefaultQueueSize is the per-client send queue length.
	DefaultQueueSize = 256
)

// state is the liveness of a client connection.
type state uint8

const (
	stateOpen state = iota
	stateClosing
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Client is one dashboard WebSocket connection. It implements events.Conn.
//
// Sends are queued; WritePump drains the queue onto the socket. A client whose
// queue is full is disconnected rather than allowed to grow without bound.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	state    state
	serverID string

	closeOnce sync.Once
}

// NewClient creates a client for an upgraded connection. conn may be nil in
// tests, in which case queued messages stay in the send channel.
func NewClient(id string, hub *Hub, conn *websocket.Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Alive reports whether the client still accepts sends.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

// ServerID returns the server the client is subscribed to, if any.
func (c *Client) ServerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverID
}

func (c *Client) setServerID(id string) (previous string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous = c.serverID
	c.serverID = id
	return previous
}

// Send queues data without blocking. A full queue closes the client and
// returns errors.ErrSlowConsumer.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return errors.ErrConnectionClosed
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return nil
	default:
		c.state = stateClosing
		c.mu.Unlock()
		_ = c.Close()
		return errors.ErrSlowConsumer
	}
}

// Close stops the client. The write pump sends a close frame and releases the
// socket. Repeated calls are no-ops.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()
		close(c.done)
		if c.conn == nil {
			return
		}
		// Unblocks ReadPump when the write pump is not running.
		_ = c.conn.SetReadDeadline(time.Now())
	})
	return nil
}

// ReadPump reads inbound messages until the connection fails, handing each to
// the hub. It always ends by notifying the hub that the client is gone.
func (c *Client) ReadPump() {
	var readErr error
	defer func() {
		c.hub.disconnected(c, readErr)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				readErr = err
			}
			return
		}
		c.hub.HandleMessage(c, data)
	}
}

// WritePump writes queued messages and keepalive pings to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				_ = c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
