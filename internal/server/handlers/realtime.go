package handlers

import (
	"net/http"
)

// HandleWebSocket handles WebSocket connections at /api/v1/ws. Clients
// choose their server with a subscribe message after connecting.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.ServeHTTP(w, r)
}

// HandleSSE handles Server-Sent Events at /api/v1/servers/{serverID}/stream.
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseBroadcaster.ServeHTTP(w, r)
}
