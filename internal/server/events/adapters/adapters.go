// Package adapters connects the event router to in-process collaborators.
// Each adapter is a router listener; Attach registers it and returns the
// unsubscribe func.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/internal/server/cache"
	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/internal/storage"
)

// Subscriber is the part of the router adapters attach to.
type Subscriber interface {
	OnAny(fn events.Listener) (unsubscribe func())
}

// writeTimeout bounds one activity write.
const writeTimeout = 2 * time.Second

// DefaultActivityQueue is the recorder's queue size when none is given.
const DefaultActivityQueue = 256

// ActivityRecorder appends every published event to the activity feed.
// Record only enqueues; Run performs the writes so a slow store never stalls
// the publisher.
type ActivityRecorder struct {
	store  storage.ActivityStore
	queue  chan events.Event
	logger *zerolog.Logger
}

// NewActivityRecorder creates an activity recorder with a queue of
// queueSize events.
func NewActivityRecorder(store storage.ActivityStore, queueSize int, logger *zerolog.Logger) *ActivityRecorder {
	if queueSize <= 0 {
		queueSize = DefaultActivityQueue
	}
	return &ActivityRecorder{
		store:  store,
		queue:  make(chan events.Event, queueSize),
		logger: logger,
	}
}

// Attach registers the recorder for all events.
func (a *ActivityRecorder) Attach(s Subscriber) func() {
	return s.OnAny(a.Record)
}

// Record queues e for writing. A full queue drops e. It is an events.Listener.
func (a *ActivityRecorder) Record(e events.Event) error {
	select {
	case a.queue <- e:
		return nil
	default:
		return fmt.Errorf("activity queue full, dropped %s", e.Type)
	}
}

// Run writes queued events until ctx is done, then writes whatever is still
// queued and returns.
func (a *ActivityRecorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-a.queue:
			a.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-a.queue:
					a.write(e)
				default:
					return
				}
			}
		}
	}
}

func (a *ActivityRecorder) write(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		a.logger.Error().Err(err).Str("event_type", string(e.Type)).Msg("Failed to encode activity")
		return
	}
	origin := "dashboard"
	if e.Type.FromBot() {
		origin = "discord"
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := a.store.AppendActivity(ctx, storage.Activity{
		ServerID:  e.ServerID,
		Type:      string(e.Type),
		Origin:    origin,
		Event:     data,
		CreatedAt: e.Timestamp,
	}); err != nil {
		a.logger.Error().Err(err).
			Str("server_id", e.ServerID).
			Str("event_type", string(e.Type)).
			Msg("Failed to record activity")
	}
}

// CacheInvalidator drops a server's cached read models whenever an event for
// that server is published.
type CacheInvalidator struct {
	cache  *cache.Cache
	logger *zerolog.Logger
}

// NewCacheInvalidator creates a cache invalidator.
func NewCacheInvalidator(c *cache.Cache, logger *zerolog.Logger) *CacheInvalidator {
	return &CacheInvalidator{cache: c, logger: logger}
}

// Attach registers the invalidator for all events.
func (c *CacheInvalidator) Attach(s Subscriber) func() {
	return s.OnAny(c.Invalidate)
}

// Invalidate is an events.Listener. It covers events that bypass the game
// service, such as raw dashboard events.
func (c *CacheInvalidator) Invalidate(e events.Event) error {
	c.Drop(e.ServerID)
	return nil
}

// Drop removes the cached read models of serverID. It is registered as a game
// commit hook and runs before the change is announced.
func (c *CacheInvalidator) Drop(serverID string) {
	if n := c.cache.InvalidateServer(serverID); n > 0 {
		c.logger.Debug().
			Str("server_id", serverID).
			Int("entries", n).
			Msg("Invalidated cached read models")
	}
}
