// Package application provides the application interface for cultivate
// commands.
//
// Commands accept this interface rather than the concrete App type so they
// can be tested against a stub:
//
//	func NewCommand(app application.Application) *cobra.Command {
//	    return &cobra.Command{
//	        RunE: func(cmd *cobra.Command, args []string) error {
//	            router := app.Router()
//	            // ... publish and subscribe
//	            return nil
//	        },
//	    }
//	}
package application

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/internal/discord"
	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/internal/server"
	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/internal/storage/sqlite"
)

// Application provides what commands need from the process.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Router returns the process-wide event router, creating it on first use.
	// Every caller receives the same instance.
	Router() *events.Router

	// Store returns the SQLite store, opening it on first use.
	Store(ctx context.Context) (*sqlite.Store, error)

	// Game returns the game service publishing through Router.
	Game(ctx context.Context) (*game.Service, error)

	// ServerConfig returns the HTTP server settings.
	ServerConfig() server.Config

	// DiscordConfig returns the Discord bot settings.
	DiscordConfig() discord.Config

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// Shutdown shuts the router down and closes the store.
	Shutdown(ctx context.Context) error

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}
