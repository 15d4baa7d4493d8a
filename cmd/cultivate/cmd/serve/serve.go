// Package serve provides the serve command: the HTTP API, the Discord bot
// and the event router running in one process.
package serve

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentstation/cultivate/cmd/application"
	"github.com/agentstation/cultivate/internal/discord"
	"github.com/agentstation/cultivate/internal/server"
	"github.com/agentstation/cultivate/pkg/errors"
)

// shutdownTimeout bounds draining of in-flight HTTP requests.
const shutdownTimeout = 30 * time.Second

// NewCommand creates the serve command.
func NewCommand(app application.Application) *cobra.Command {
	defaults := server.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and Discord bot",
		Long: `Start the cultivate server.

Features:
  - REST endpoints for the shop, missions, profiles, leaderboard and factions
  - WebSocket (/api/v1/ws) and SSE (/api/v1/events/stream) feeds per server
  - Discord slash commands when DISCORD_TOKEN is set
  - Dashboard actions announced in DISCORD_ANNOUNCE_CHANNEL
  - Rate limiting, CORS and an optional operator API key
  - Periodic event metrics in the log

Settings come from flags, environment variables and ~/.cultivate.yaml,
in that order of precedence.`,
		Example: `  # Start on default port 8080
  cultivate serve

  # Protect the admin endpoints and allow the dashboard origin
  cultivate serve --api-key secret --cors-origins https://dash.example.com

  # Log event metrics every 30 seconds
  cultivate serve --metrics-interval 30s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := applyFlags(cmd, app.ServerConfig())
			if err != nil {
				return err
			}
			return Run(cmd.Context(), app, cfg)
		},
	}

	// Server configuration flags
	cmd.Flags().IntP("port", "p", defaults.Port, "Server port")
	cmd.Flags().String("host", defaults.Host, "Bind address")
	cmd.Flags().String("prefix", defaults.PathPrefix, "API path prefix")

	// CORS flags
	cmd.Flags().Bool("cors", defaults.CORSEnabled, "Enable CORS for all origins")
	cmd.Flags().StringSlice("cors-origins", nil, "Allowed CORS origins (comma-separated)")

	// Authentication flags
	cmd.Flags().String("api-key", "", "API key required for admin endpoints")
	cmd.Flags().String("auth-header", defaults.AuthHeader, "Authentication header name")

	// Performance flags
	cmd.Flags().Int("rate-limit", defaults.RateLimit, "Requests per minute per IP (0 to disable)")
	cmd.Flags().Duration("cache-ttl", defaults.CacheTTL, "Read cache TTL")
	cmd.Flags().Int("queue-size", defaults.QueueSize, "Per-connection send queue size")
	cmd.Flags().Duration("metrics-interval", defaults.MetricsInterval, "Event metrics log interval (0 to disable)")

	// Timeout flags
	cmd.Flags().Duration("read-timeout", defaults.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", defaults.WriteTimeout, "HTTP write timeout")
	cmd.Flags().Duration("idle-timeout", defaults.IdleTimeout, "HTTP idle timeout")

	return cmd
}

// applyFlags overlays the flags set on the command line onto cfg, so values
// from the environment and config file survive unless overridden.
func applyFlags(cmd *cobra.Command, cfg server.Config) (server.Config, error) {
	flags := cmd.Flags()
	var err error
	get := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			err = apply()
		}
	}

	get("port", func() (e error) { cfg.Port, e = flags.GetInt("port"); return })
	get("host", func() (e error) { cfg.Host, e = flags.GetString("host"); return })
	get("prefix", func() (e error) { cfg.PathPrefix, e = flags.GetString("prefix"); return })
	get("cors", func() (e error) { cfg.CORSEnabled, e = flags.GetBool("cors"); return })
	get("cors-origins", func() (e error) {
		cfg.CORSOrigins, e = flags.GetStringSlice("cors-origins")
		cfg.CORSEnabled = cfg.CORSEnabled || len(cfg.CORSOrigins) > 0
		return
	})
	get("api-key", func() (e error) { cfg.APIKey, e = flags.GetString("api-key"); return })
	get("auth-header", func() (e error) { cfg.AuthHeader, e = flags.GetString("auth-header"); return })
	get("rate-limit", func() (e error) { cfg.RateLimit, e = flags.GetInt("rate-limit"); return })
	get("cache-ttl", func() (e error) { cfg.CacheTTL, e = flags.GetDuration("cache-ttl"); return })
	get("queue-size", func() (e error) { cfg.QueueSize, e = flags.GetInt("queue-size"); return })
	get("metrics-interval", func() (e error) { cfg.MetricsInterval, e = flags.GetDuration("metrics-interval"); return })
	get("read-timeout", func() (e error) { cfg.ReadTimeout, e = flags.GetDuration("read-timeout"); return })
	get("write-timeout", func() (e error) { cfg.WriteTimeout, e = flags.GetDuration("write-timeout"); return })
	get("idle-timeout", func() (e error) { cfg.IdleTimeout, e = flags.GetDuration("idle-timeout"); return })
	if err != nil {
		return cfg, err
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return cfg, errors.NewValidationError("port", cfg.Port, "must be between 0 and 65535")
	}
	if cfg.QueueSize <= 0 {
		return cfg, errors.NewValidationError("queue-size", cfg.QueueSize, "must be positive")
	}
	return cfg, nil
}

// newSession opens Discord sessions; tests replace it.
var newSession = func(token string) (discord.Session, error) {
	return discord.NewSession(token)
}

// Run serves until ctx is done or the listener fails, then shuts down in
// order: HTTP server, Discord bot, router, store.
func Run(ctx context.Context, app application.Application, cfg server.Config) error {
	logger := app.Logger()

	store, err := app.Store(ctx)
	if err != nil {
		return err
	}
	svc, err := app.Game(ctx)
	if err != nil {
		return err
	}
	router := app.Router()

	srv := server.New(router, svc, store, cfg, logger)
	srv.Start()

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		_ = srv.Shutdown(ctx)
		return errors.WrapResource("listen", "address", cfg.Addr(), err)
	}
	httpServer := srv.HTTPServer()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", listener.Addr().String()).
			Str("prefix", cfg.PathPrefix).
			Bool("cors", cfg.CORSEnabled).
			Bool("auth", cfg.APIKey != "").
			Int("rate_limit", cfg.RateLimit).
			Msg("Server starting")
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serverErr <- errors.WrapResource("serve", "http", listener.Addr().String(), err)
		}
	}()

	stopBot, err := startDiscord(ctx, app, router, logger)
	if err != nil {
		shutdown(httpServer, srv, nil, logger)
		return err
	}

	var runErr error
	select {
	case runErr = <-serverErr:
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	}

	shutdown(httpServer, srv, stopBot, logger)
	if err := app.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil {
		logger.Info().Msg("Server stopped gracefully")
	}
	return runErr
}

// shutdown drains HTTP traffic, stops background services and then the bot.
func shutdown(httpServer *http.Server, srv *server.Server, stopBot func(), logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	if stopBot != nil {
		stopBot()
	}
}

// startDiscord starts the bot and announcer when a token is configured. The
// returned func stops both; it is nil when Discord is disabled.
func startDiscord(ctx context.Context, app application.Application, router discord.ActionSource, logger *zerolog.Logger) (func(), error) {
	cfg := app.DiscordConfig()
	if !cfg.Enabled() {
		logger.Info().Msg("Discord token not set, bot disabled")
		return nil, nil
	}

	svc, err := app.Game(ctx)
	if err != nil {
		return nil, err
	}
	session, err := newSession(cfg.Token)
	if err != nil {
		return nil, errors.NewConfigError("discord", "create session", err)
	}

	botLogger := logger.With().Str("component", "discord").Logger()
	bot := discord.NewBot(cfg, session, svc, &botLogger)
	if err := bot.Start(); err != nil {
		return nil, err
	}

	stop := func() {
		if err := bot.Close(); err != nil {
			botLogger.Error().Err(err).Msg("Discord session close failed")
		}
	}
	if cfg.AnnounceChannel == "" {
		return stop, nil
	}

	announcer := discord.NewAnnouncer(cfg, session, &botLogger)
	detach := announcer.Attach(router)
	annCtx, cancel := context.WithCancel(context.Background())
	go announcer.Run(annCtx)

	return func() {
		detach()
		cancel()
		stop()
	}, nil
}
