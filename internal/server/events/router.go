package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentstation/utc"
	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/pkg/errors"
)

// Router is the publish/subscribe hub between the bot, the dashboard and the
// live dashboard connections. Create exactly one per process.
//
// Publishing never blocks on the network: each Conn queues its own sends.
// Public methods never return errors; failures are logged and counted.
type Router struct {
	registry  *Registry
	metrics   Metrics
	listeners *listenerTable
	logger    *zerolog.Logger

	closed       atomic.Bool
	shutdownOnce sync.Once
}

// NewRouter creates a router with an empty registry.
func NewRouter(logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{
		registry:  NewRegistry(logger),
		listeners: newListenerTable(logger),
		logger:    logger,
	}
}

// Registry returns the connection registry transports register with.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Publish broadcasts e to every live connection of e.ServerID and then to the
// listeners of e.Type. Events without a type or server id are counted as
// failures and dropped.
func (r *Router) Publish(e Event) {
	r.publish(e)
}

// EmitFromBot publishes e with the bot-origin prefix added to its type.
func (r *Router) EmitFromBot(e Event) {
	if e.Type != "" && !e.Type.FromBot() {
		e.Type = BotPrefix + e.Type
	}
	r.publish(e)
}

// EmitFromDashboard publishes e unchanged and then notifies the dashboard
// action listeners of e.Type. Types carrying the bot-origin prefix are
// rejected.
func (r *Router) EmitFromDashboard(e Event) {
	if e.Type.FromBot() {
		r.metrics.recordFailure()
		r.logger.Warn().
			Str("event_type", string(e.Type)).
			Str("server_id", e.ServerID).
			Msg("Rejected dashboard event with bot-origin type")
		return
	}
	stamped, ok := r.publish(e)
	if !ok {
		return
	}
	r.listeners.emit(listenerKey{ns: nsAction, t: stamped.Type}, stamped)
}

// OnEvent registers fn for published events whose wire type is t.
func (r *Router) OnEvent(t Type, fn Listener) (unsubscribe func()) {
	return r.listeners.add(listenerKey{ns: nsEvent, t: t}, fn)
}

// OnBotEvent registers fn for bot-origin events of bare type t.
func (r *Router) OnBotEvent(t Type, fn Listener) (unsubscribe func()) {
	return r.OnEvent(BotPrefix+t.Bare(), fn)
}

// OnDashboardAction registers fn for dashboard actions of bare type t.
func (r *Router) OnDashboardAction(t Type, fn Listener) (unsubscribe func()) {
	return r.listeners.add(listenerKey{ns: nsAction, t: t}, fn)
}

// OnAny registers fn for every published event.
func (r *Router) OnAny(fn Listener) (unsubscribe func()) {
	return r.listeners.add(listenerKey{ns: nsAny}, fn)
}

// Metrics returns a snapshot with the live connection count taken from the
// registry.
func (r *Router) Metrics() Snapshot {
	return r.metrics.snapshot(r.registry.TotalCount(), r.registry.ServerCount())
}

// ResetMetrics zeroes the counters. Connection gauges are unaffected.
func (r *Router) ResetMetrics() {
	r.metrics.reset()
}

// Closed reports whether Shutdown has been called.
func (r *Router) Closed() bool {
	return r.closed.Load()
}

// Shutdown closes every registered connection, empties the registry and
// removes all listeners. Later publishes are dropped. Safe to call repeatedly.
func (r *Router) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.closed.Store(true)

		conns := r.registry.drain()
		for _, c := range conns {
			if err := c.Close(); err != nil {
				r.logger.Debug().Err(err).Str("conn_id", c.ID()).Msg("Close during shutdown failed")
			}
		}
		listeners := r.listeners.count()
		r.listeners.clear()

		r.logger.Info().
			Int("connections_closed", len(conns)).
			Int("listeners_removed", listeners).
			Msg("Event router shut down")
	})
}

// RunMetricsLogger logs a metrics snapshot every interval until ctx is done.
func (r *Router) RunMetricsLogger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logMetrics()
		}
	}
}

func (r *Router) logMetrics() {
	s := r.Metrics()
	ev := r.logger.Info().
		Int64("total_events", s.TotalEvents).
		Int64("total_broadcasts", s.TotalBroadcasts).
		Int64("failed_broadcasts", s.FailedBroadcasts).
		Int("active_connections", s.ActiveConnections).
		Int("active_servers", s.ActiveServers)
	if s.LastEventTime != nil {
		ev = ev.Time("last_event_time", *s.LastEventTime)
	}
	ev.Msg("Event router metrics")
}

// publish performs the broadcast and returns the stamped event and whether it
// was accepted.
func (r *Router) publish(e Event) (Event, bool) {
	if r.closed.Load() {
		r.logger.Debug().
			Err(errors.ErrRouterClosed).
			Str("event_type", string(e.Type)).
			Msg("Dropped event after shutdown")
		return e, false
	}
	if !e.Valid() {
		r.metrics.recordFailure()
		r.logger.Warn().
			Str("event_type", string(e.Type)).
			Str("server_id", e.ServerID).
			Msg("Rejected malformed event")
		return e, false
	}
	if e.Timestamp.Time.IsZero() {
		e.Timestamp = utc.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		r.metrics.recordFailure()
		r.logger.Warn().
			Err(err).
			Str("event_type", string(e.Type)).
			Str("server_id", e.ServerID).
			Msg("Rejected unserializable event")
		return e, false
	}

	r.metrics.recordEvent(e.Timestamp.Time)

	sent := 0
	for _, c := range r.registry.Connections(e.ServerID) {
		if !c.Alive() {
			r.registry.Unregister(e.ServerID, c)
			r.logger.Debug().
				Str("server_id", e.ServerID).
				Str("conn_id", c.ID()).
				Msg("Pruned dead connection")
			continue
		}
		if err := c.Send(data); err != nil {
			r.metrics.recordFailure()
			r.registry.Unregister(e.ServerID, c)
			r.logger.Error().
				Err(errors.NewSendError(c.ID(), e.ServerID, err)).
				Str("event_type", string(e.Type)).
				Msg("Failed to send event")
			continue
		}
		sent++
	}

	r.logger.Debug().
		Str("event_type", string(e.Type)).
		Str("server_id", e.ServerID).
		Int("connections", sent).
		Msg("Event broadcasted")

	r.listeners.emit(listenerKey{ns: nsEvent, t: e.Type}, e)
	r.listeners.emit(listenerKey{ns: nsAny}, e)
	return e, true
}
