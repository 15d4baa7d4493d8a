// Package server assembles the dashboard HTTP server: transports bound to the
// event router, in-process adapters, handlers and the middleware chain.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/internal/server/cache"
	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/internal/server/events/adapters"
	"github.com/agentstation/cultivate/internal/server/middleware"
	"github.com/agentstation/cultivate/internal/server/sse"
	ws "github.com/agentstation/cultivate/internal/server/websocket"
	"github.com/agentstation/cultivate/internal/storage"
)

// Store is the persistence the server reads directly.
type Store interface {
	storage.ActivityStore
	Ping(ctx context.Context) error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	router         *events.Router
	game           *game.Service
	store          Store
	cache          *cache.Cache
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	rateLimiter    *middleware.RateLimiter
	recorder       *adapters.ActivityRecorder
	recorderDone   chan struct{}
	detach         []func()
	logger         *zerolog.Logger
	config         Config
	ctx            context.Context
	cancel         context.CancelFunc
	startTime      time.Time
}

// New creates a server publishing through router. The router is owned by the
// caller and outlives the server.
func New(router *events.Router, svc *game.Service, store Store, cfg Config, logger *zerolog.Logger) *Server {
	logger.Debug().Msg("Creating new server instance")

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = ws.DefaultQueueSize
	}

	corsConfig := corsConfig(cfg)
	wsHub := ws.NewHub(router.Registry(), ws.Options{
		QueueSize:   cfg.QueueSize,
		CheckOrigin: middleware.OriginChecker(corsConfig),
	}, logger)
	sseBroadcaster := sse.NewBroadcaster(router.Registry(), cfg.QueueSize, logger)

	c := cache.New(cfg.CacheTTL, cfg.CacheTTL*2)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		router:         router,
		game:           svc,
		store:          store,
		cache:          c,
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		logger:         logger,
		config:         cfg,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.rateLimiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
	}

	s.recorder = adapters.NewActivityRecorder(store, cfg.QueueSize, logger)
	invalidator := adapters.NewCacheInvalidator(c, logger)
	s.detach = append(s.detach,
		s.recorder.Attach(router),
		invalidator.Attach(router),
		svc.OnCommit(invalidator.Drop),
	)
	logger.Debug().Msg("Activity recorder and cache invalidator attached")

	return s
}

// Start starts background services: the activity writer, rate limiter
// eviction and the periodic event metrics log.
func (s *Server) Start() {
	if s.recorderDone == nil {
		s.recorderDone = make(chan struct{})
		go func() {
			defer close(s.recorderDone)
			s.recorder.Run(s.ctx)
		}()
	}
	if s.rateLimiter != nil {
		go s.rateLimiter.Run(s.ctx)
	}
	if s.config.MetricsInterval > 0 {
		go s.router.RunMetricsLogger(s.ctx, s.config.MetricsInterval)
	}
	s.logger.Debug().Msg("Background services started")
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// HTTPServer returns an http.Server for the configured address and timeouts.
// Its Shutdown ends open SSE streams so the drain does not wait on them.
func (s *Server) HTTPServer() *http.Server {
	hs := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	hs.RegisterOnShutdown(s.sseBroadcaster.Close)
	return hs
}

// Shutdown stops background services, detaches the router adapters, ends SSE
// streams and closes WebSocket clients that never subscribed. Subscribed
// WebSocket connections are closed by the router's own shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server background services")

	for _, detach := range s.detach {
		detach()
	}
	s.detach = nil
	s.cancel()
	if s.recorderDone != nil {
		select {
		case <-s.recorderDone:
		case <-ctx.Done():
			s.logger.Warn().Msg("Activity writer did not finish before shutdown deadline")
		}
	}
	s.sseBroadcaster.Close()
	s.wsHub.Close()

	return nil
}

// Cache returns the server's cache instance.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *ws.Hub {
	return s.wsHub
}

// SSEBroadcaster returns the SSE broadcaster.
func (s *Server) SSEBroadcaster() *sse.Broadcaster {
	return s.sseBroadcaster
}

// StartTime returns the server start time for uptime calculations.
func (s *Server) StartTime() time.Time {
	return s.startTime
}
