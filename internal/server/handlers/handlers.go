// Package handlers provides the dashboard HTTP handlers.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/internal/server/cache"
	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/internal/server/sse"
	ws "github.com/agentstation/cultivate/internal/server/websocket"
	"github.com/agentstation/cultivate/internal/storage"
	"github.com/agentstation/cultivate/pkg/errors"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers serve.
type Deps struct {
	Game           *game.Service
	Activity       storage.ActivityStore
	Store          Pinger
	Router         *events.Router
	Cache          *cache.Cache
	WSHub          *ws.Hub
	SSEBroadcaster *sse.Broadcaster
	Logger         *zerolog.Logger
}

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	game           *game.Service
	activity       storage.ActivityStore
	store          Pinger
	router         *events.Router
	cache          *cache.Cache
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	logger         *zerolog.Logger
	startTime      time.Time
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	return &Handlers{
		game:           d.Game,
		activity:       d.Activity,
		store:          d.Store,
		router:         d.Router,
		cache:          d.Cache,
		wsHub:          d.WSHub,
		sseBroadcaster: d.SSEBroadcaster,
		logger:         d.Logger,
		startTime:      time.Now(),
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errors.NewValidationError("body", nil, "request body is empty")
		}
		return errors.NewValidationError("body", nil, "malformed JSON: "+err.Error())
	}
	return nil
}
