package discord

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the Discord bot settings, read from the environment.
type Config struct {
	Token           string `env:"DISCORD_TOKEN"`
	AppID           string `env:"DISCORD_APP_ID"`
	GuildID         string `env:"DISCORD_GUILD_ID"`
	AnnounceChannel string `env:"DISCORD_ANNOUNCE_CHANNEL"`
	// RegisterCommands overwrites the slash command set on startup.
	RegisterCommands bool `env:"DISCORD_REGISTER_COMMANDS" envDefault:"true"`
	// AnnounceQueue bounds announcements waiting to be posted.
	AnnounceQueue int `env:"DISCORD_ANNOUNCE_QUEUE" envDefault:"64"`
}

// LoadConfig parses the Discord settings from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse discord env: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether a bot token is configured.
func (c Config) Enabled() bool {
	return c.Token != ""
}
