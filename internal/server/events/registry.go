package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry groups live connections by server id.
// A server with no connections has no entry.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*group
	logger *zerolog.Logger
}

// group keeps insertion order so broadcasts reach connections in the order
// they subscribed.
type group struct {
	conns []Conn
	index map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		groups: make(map[string]*group),
		logger: logger,
	}
}

// Register adds conn to the group for serverID. Registering the same
// connection twice is a no-op. It returns false when the request is rejected.
func (r *Registry) Register(serverID string, conn Conn) bool {
	if serverID == "" || conn == nil {
		r.logger.Warn().Msg("Rejected registration without server id or connection")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[serverID]
	if !ok {
		g = &group{index: make(map[string]struct{})}
		r.groups[serverID] = g
	}
	if _, exists := g.index[conn.ID()]; exists {
		return true
	}
	g.index[conn.ID()] = struct{}{}
	g.conns = append(g.conns, conn)

	r.logger.Debug().
		Str("server_id", serverID).
		Str("conn_id", conn.ID()).
		Int("server_connections", len(g.conns)).
		Msg("Connection registered")
	return true
}

// Unregister removes conn from the group for serverID and drops the group
// when it becomes empty. Unknown server ids and connections are ignored.
func (r *Registry) Unregister(serverID string, conn Conn) {
	if serverID == "" || conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[serverID]
	if !ok {
		return
	}
	id := conn.ID()
	if _, exists := g.index[id]; !exists {
		return
	}
	delete(g.index, id)
	for i, c := range g.conns {
		if c.ID() == id {
			g.conns = append(g.conns[:i], g.conns[i+1:]...)
			break
		}
	}
	if len(g.conns) == 0 {
		delete(r.groups, serverID)
	}

	r.logger.Debug().
		Str("server_id", serverID).
		Str("conn_id", id).
		Msg("Connection unregistered")
}

// Connections returns a snapshot of the connections for serverID.
func (r *Registry) Connections(serverID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[serverID]
	if !ok {
		return nil
	}
	out := make([]Conn, len(g.conns))
	copy(out, g.conns)
	return out
}

// CountFor returns the number of connections for serverID.
func (r *Registry) CountFor(serverID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if g, ok := r.groups[serverID]; ok {
		return len(g.conns)
	}
	return 0
}

// TotalCount returns the number of connections across all servers.
func (r *Registry) TotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, g := range r.groups {
		total += len(g.conns)
	}
	return total
}

// ServerCount returns the number of servers with at least one connection.
func (r *Registry) ServerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// ServerIDs returns the servers that currently have connections.
func (r *Registry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	return ids
}

// drain empties the registry and returns every connection it held.
func (r *Registry) drain() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Conn
	for _, g := range r.groups {
		all = append(all, g.conns...)
	}
	r.groups = make(map[string]*group)
	return all
}
