package server

import (
	"net/http"

	"github.com/agentstation/cultivate/internal/server/handlers"
	"github.com/agentstation/cultivate/internal/server/middleware"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	h := handlers.New(handlers.Deps{
		Game:           s.game,
		Activity:       s.store,
		Store:          s.store,
		Router:         s.router,
		Cache:          s.cache,
		WSHub:          s.wsHub,
		SSEBroadcaster: s.sseBroadcaster,
		Logger:         s.logger,
	})

	s.registerRoutes(mux, h)

	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	prefix := s.config.PathPrefix

	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Health
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/ready", h.HandleReady)

	// Real-time
	mux.HandleFunc("GET "+prefix+"/ws", h.HandleWebSocket)
	mux.HandleFunc("GET "+prefix+"/servers/{serverID}/stream", h.HandleSSE)

	// Game content
	mux.HandleFunc("GET "+prefix+"/shop", h.HandleShop)
	mux.HandleFunc("GET "+prefix+"/missions", h.HandleMissions)

	// Per-server state
	mux.HandleFunc("GET "+prefix+"/servers/{serverID}/leaderboard", h.HandleLeaderboard)
	mux.HandleFunc("GET "+prefix+"/servers/{serverID}/users/{userID}", h.HandleProfile)
	mux.HandleFunc("GET "+prefix+"/servers/{serverID}/activity", h.HandleActivity)

	// Dashboard actions
	mux.HandleFunc("POST "+prefix+"/servers/{serverID}/purchases", h.HandlePurchase)
	mux.HandleFunc("POST "+prefix+"/servers/{serverID}/missions", h.HandleCompleteMission)
	mux.HandleFunc("POST "+prefix+"/servers/{serverID}/factions", h.HandleCreateFaction)
	mux.HandleFunc("POST "+prefix+"/servers/{serverID}/factions/{factionID}/members", h.HandleJoinFaction)
	mux.HandleFunc("PATCH "+prefix+"/servers/{serverID}/users/{userID}", h.HandleRename)
	mux.HandleFunc("POST "+prefix+"/servers/{serverID}/events", h.HandleDashboardEvent)

	// Operator
	mux.HandleFunc("GET "+prefix+"/admin/metrics", h.HandleMetrics)
	mux.HandleFunc("POST "+prefix+"/admin/metrics/reset", h.HandleResetMetrics)
	mux.HandleFunc("GET "+prefix+"/admin/stats", h.HandleStats)
}

// applyMiddleware wraps handler with middleware chain.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config

	if s.rateLimiter != nil {
		handler = middleware.RateLimit(s.rateLimiter)(handler)
	}

	if cfg.APIKey != "" {
		authConfig := middleware.DefaultAuthConfig(cfg.APIKey)
		if cfg.AuthHeader != "" {
			authConfig.HeaderName = cfg.AuthHeader
		}
		authConfig.ProtectedPrefixes = []string{cfg.PathPrefix + "/admin/"}
		handler = middleware.Auth(authConfig, s.logger)(handler)
	}

	if cfg.CORSEnabled {
		handler = middleware.CORS(corsConfig(cfg))(handler)
	}

	// Logging and recovery (always enabled)
	handler = middleware.Logger(s.logger)(handler)
	handler = middleware.Recovery(s.logger)(handler)

	return handler
}

// corsConfig derives the CORS policy, shared with the WebSocket origin check.
func corsConfig(cfg Config) middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		c.AllowedOrigins = cfg.CORSOrigins
	}
	return c
}
