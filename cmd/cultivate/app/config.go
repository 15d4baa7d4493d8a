package app

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/cultivate/internal/discord"
	"github.com/agentstation/cultivate/internal/server"
	"github.com/agentstation/cultivate/pkg/errors"
)

// DefaultDatabasePath is the SQLite file used when none is configured.
const DefaultDatabasePath = "cultivate.db"

// Config holds the application configuration loaded from various sources
// including config files, environment variables, and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool

	// Config file
	ConfigFile string

	// Storage
	DatabasePath string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string

	Server  server.Config
	Discord discord.Config
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables
// 3. .env files
// 4. Config file (~/.cultivate.yaml)
// 5. Defaults
func LoadConfig() (*Config, error) {
	return LoadConfigFile(os.Getenv("CULTIVATE_CONFIG"))
}

// LoadConfigFile is LoadConfig with an explicit config file. An empty path
// searches the home and working directories for .cultivate.yaml.
func LoadConfigFile(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".cultivate")
	}

	if err := v.ReadInConfig(); err != nil && configFile != "" {
		return nil, errors.NewConfigError("config", "read "+configFile, err)
	}

	return configFromViper(v)
}

// configFromViper builds a Config from a populated viper instance.
func configFromViper(v *viper.Viper) (*Config, error) {
	defaults := server.DefaultConfig()
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("log_level", "")
	v.SetDefault("log_format", "auto")
	v.SetDefault("log_output", "stderr")
	v.SetDefault("host", defaults.Host)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("path_prefix", defaults.PathPrefix)
	v.SetDefault("cors_enabled", defaults.CORSEnabled)
	v.SetDefault("cors_origins", defaults.CORSOrigins)
	v.SetDefault("api_key", "")
	v.SetDefault("auth_header", defaults.AuthHeader)
	v.SetDefault("rate_limit", defaults.RateLimit)
	v.SetDefault("cache_ttl", defaults.CacheTTL)
	v.SetDefault("queue_size", defaults.QueueSize)
	v.SetDefault("metrics_interval", defaults.MetricsInterval)
	v.SetDefault("read_timeout", defaults.ReadTimeout)
	v.SetDefault("write_timeout", defaults.WriteTimeout)
	v.SetDefault("idle_timeout", defaults.IdleTimeout)

	discordConfig, err := discord.LoadConfig()
	if err != nil {
		return nil, errors.NewConfigError("discord", "invalid environment", err)
	}

	config := &Config{
		Verbose:      v.GetBool("verbose"),
		Quiet:        v.GetBool("quiet"),
		ConfigFile:   v.ConfigFileUsed(),
		DatabasePath: v.GetString("database_path"),
		LogLevel:     v.GetString("log_level"),
		LogFormat:    v.GetString("log_format"),
		LogOutput:    v.GetString("log_output"),
		Server: server.Config{
			Host:            v.GetString("host"),
			Port:            v.GetInt("port"),
			PathPrefix:      v.GetString("path_prefix"),
			CORSEnabled:     v.GetBool("cors_enabled"),
			CORSOrigins:     v.GetStringSlice("cors_origins"),
			APIKey:          v.GetString("api_key"),
			AuthHeader:      v.GetString("auth_header"),
			RateLimit:       v.GetInt("rate_limit"),
			CacheTTL:        v.GetDuration("cache_ttl"),
			QueueSize:       v.GetInt("queue_size"),
			MetricsInterval: v.GetDuration("metrics_interval"),
			ReadTimeout:     v.GetDuration("read_timeout"),
			WriteTimeout:    v.GetDuration("write_timeout"),
			IdleTimeout:     v.GetDuration("idle_timeout"),
		},
		Discord: discordConfig,
	}

	if config.DatabasePath == "" {
		config.DatabasePath = DefaultDatabasePath
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return nil, errors.NewConfigError("server", "port out of range", nil)
	}

	return config, nil
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet bool, logLevel, database string) {
	c.Verbose = verbose
	c.Quiet = quiet
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if database != "" {
		c.DatabasePath = database
	}
}

// loadEnvFiles loads environment variables from .env files. Variables that
// are already set are never overwritten.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}
