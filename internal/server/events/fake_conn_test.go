package events

import (
	"errors"
	"sync"
	"sync/atomic"
)

// fakeConn records sends and can be made dead or failing.
type fakeConn struct {
	id      string
	mu      sync.Mutex
	sent    [][]byte
	dead    atomic.Bool
	closed  atomic.Bool
	sendErr error
}

var errSendBroken = errors.New("broken pipe")

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Alive() bool { return !c.dead.Load() && !c.closed.Load() }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) SendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) Last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}
