package handlers

import (
	"net/http"

	"github.com/agentstation/cultivate/internal/server/response"
)

// HandleHealth handles GET /health and GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "cultivate",
		"version": "v1",
	})
}

// HandleReady handles GET /api/v1/ready. The server is ready when the store
// answers and the event router is still running.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.router.Closed() {
		response.ServiceUnavailable(w, "Event router is shut down")
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness check failed")
		response.ServiceUnavailable(w, "Store not available")
		return
	}

	response.OK(w, map[string]any{
		"status": "ready",
		"cache": map[string]any{
			"items": h.cache.ItemCount(),
		},
		"websocket_clients": h.wsHub.ClientCount(),
		"sse_clients":       h.sseBroadcaster.ClientCount(),
	})
}
