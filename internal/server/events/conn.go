package events

// Conn is a live duplex channel to one dashboard client.
//
// Conns are owned by their transport. The Registry only references them and
// never closes them; the Router closes them on Shutdown.
type Conn interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string

	// Alive reports whether the connection is open and accepting sends.
	Alive() bool

	// Send queues one serialized event. It must not block on the network.
	Send(data []byte) error

	// Close terminates the connection. Repeated calls are no-ops.
	Close() error
}
