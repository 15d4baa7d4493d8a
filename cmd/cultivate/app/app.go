// Package app is the composition root of the cultivate process. It owns the
// configuration, the logger and the single event router every component
// shares, and builds the store and game service on demand.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/cmd/application"
	"github.com/agentstation/cultivate/internal/discord"
	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/internal/server"
	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/internal/storage/sqlite"
	"github.com/agentstation/cultivate/pkg/errors"
	"github.com/agentstation/cultivate/pkg/logging"
)

var _ application.Application = (*App)(nil)

// App represents the cultivate process with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger

	// Lazily created singletons
	mu     sync.RWMutex
	router *events.Router
	store  *sqlite.Store
	game   *game.Service
}

// New creates a new App instance with the given version information.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	logging.SetDefault(logger)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// ServerConfig returns the HTTP server settings.
func (a *App) ServerConfig() server.Config {
	return a.config.Server
}

// DiscordConfig returns the Discord bot settings.
func (a *App) DiscordConfig() discord.Config {
	return a.config.Discord
}

// Router returns the process-wide event router, creating it lazily.
// This is thread-safe and ensures only one instance is created.
func (a *App) Router() *events.Router {
	a.mu.RLock()
	if a.router != nil {
		r := a.router
		a.mu.RUnlock()
		return r
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock
	if a.router != nil {
		return a.router
	}

	logger := a.logger.With().Str("component", "events").Logger()
	a.router = events.NewRouter(&logger)
	return a.router
}

// Store returns the SQLite store, opening it lazily.
func (a *App) Store(ctx context.Context) (*sqlite.Store, error) {
	a.mu.RLock()
	if a.store != nil {
		s := a.store
		a.mu.RUnlock()
		return s, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store != nil {
		return a.store, nil
	}

	s, err := sqlite.Open(ctx, a.config.DatabasePath)
	if err != nil {
		return nil, errors.WrapResource("open", "store", a.config.DatabasePath, err)
	}
	a.store = s
	return s, nil
}

// Game returns the game service, creating it lazily on top of Store and
// Router.
func (a *App) Game(ctx context.Context) (*game.Service, error) {
	a.mu.RLock()
	if a.game != nil {
		g := a.game
		a.mu.RUnlock()
		return g, nil
	}
	a.mu.RUnlock()

	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	router := a.Router()

	catalog, err := game.DefaultCatalog()
	if err != nil {
		return nil, errors.WrapResource("load", "catalog", "", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.game == nil {
		logger := a.logger.With().Str("component", "game").Logger()
		a.game = game.NewService(store, catalog, router, &logger)
	}
	return a.game, nil
}

// Shutdown shuts the router down, closing every live connection, and then
// closes the store. It is safe to call more than once.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	router, store := a.router, a.store
	a.store = nil
	a.game = nil
	a.mu.Unlock()

	if router != nil {
		router.Shutdown()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			return errors.WrapResource("close", "store", "", err)
		}
	}
	return nil
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}
