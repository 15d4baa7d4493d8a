package events

import (
	"sync/atomic"
	"time"
)

// Metrics counts router activity. All methods are safe for concurrent use.
type Metrics struct {
	totalEvents      atomic.Int64
	totalBroadcasts  atomic.Int64
	failedBroadcasts atomic.Int64
	lastEvent        atomic.Int64 // unix nanos, 0 when no event yet
}

// Snapshot is a point-in-time copy of the router metrics.
type Snapshot struct {
	TotalEvents       int64      `json:"totalEvents"`
	TotalBroadcasts   int64      `json:"totalBroadcasts"`
	FailedBroadcasts  int64      `json:"failedBroadcasts"`
	ActiveConnections int        `json:"activeConnections"`
	ActiveServers     int        `json:"activeServers"`
	LastEventTime     *time.Time `json:"lastEventTime,omitempty"`
}

func (m *Metrics) recordEvent(at time.Time) {
	m.totalEvents.Add(1)
	m.totalBroadcasts.Add(1)
	m.lastEvent.Store(at.UnixNano())
}

func (m *Metrics) recordFailure() {
	m.failedBroadcasts.Add(1)
}

// snapshot copies the counters. Connection gauges come from the registry.
func (m *Metrics) snapshot(connections, servers int) Snapshot {
	s := Snapshot{
		TotalEvents:       m.totalEvents.Load(),
		TotalBroadcasts:   m.totalBroadcasts.Load(),
		FailedBroadcasts:  m.failedBroadcasts.Load(),
		ActiveConnections: connections,
		ActiveServers:     servers,
	}
	if ns := m.lastEvent.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		s.LastEventTime = &t
	}
	return s
}

func (m *Metrics) reset() {
	m.totalEvents.Store(0)
	m.totalBroadcasts.Store(0)
	m.failedBroadcasts.Store(0)
	m.lastEvent.Store(0)
}
