package handlers

import (
	"net/http"

	"github.com/agentstation/utc"

	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/internal/server/response"
	"github.com/agentstation/cultivate/pkg/errors"
)

// HandleDashboardEvent handles POST /api/v1/servers/{serverID}/events.
// The body is a flat event object; the server id comes from the path and the
// timestamp is assigned on publish. The event goes out through the dashboard
// path, so bot listeners are never notified.
func (h *Handlers) HandleDashboardEvent(w http.ResponseWriter, r *http.Request) {
	var e events.Event
	if err := decodeJSON(w, r, &e); err != nil {
		response.ErrorFromType(w, r, err)
		return
	}

	e.ServerID = r.PathValue("serverID")
	e.Timestamp = utc.Time{}

	switch {
	case e.Type == "":
		response.ErrorFromType(w, r, errors.NewValidationError("type", nil, "event type is required"))
		return
	case e.Type.FromBot():
		response.ErrorFromType(w, r, errors.NewValidationError("type", string(e.Type),
			"dashboard events cannot use the "+events.BotPrefix+" prefix"))
		return
	}
	if h.router.Closed() {
		response.ErrorFromType(w, r, errors.ErrRouterClosed)
		return
	}

	h.router.EmitFromDashboard(e)
	response.Accepted(w, map[string]any{
		"type":     string(e.Type),
		"serverId": e.ServerID,
	})
}
