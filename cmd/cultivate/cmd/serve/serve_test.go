package serve

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/cultivate/internal/discord"
	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/internal/server"
	"github.com/agentstation/cultivate/internal/server/events"
	"github.com/agentstation/cultivate/internal/storage/sqlite"
	"github.com/agentstation/cultivate/pkg/logging"
)

type testApp struct {
	logger  *zerolog.Logger
	router  *events.Router
	store   *sqlite.Store
	game    *game.Service
	discord discord.Config
	server  server.Config

	mu       sync.Mutex
	shutdown int
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := logging.NewNopLogger()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "cultivate.db"))
	require.NoError(t, err)
	catalog, err := game.DefaultCatalog()
	require.NoError(t, err)
	router := events.NewRouter(logger)

	cfg := server.DefaultConfig()
	cfg.Port = 0
	cfg.MetricsInterval = 0

	return &testApp{
		logger: logger,
		router: router,
		store:  store,
		game:   game.NewService(store, catalog, router, logger),
		server: cfg,
	}
}

func (a *testApp) Router() *events.Router { return a.router }
func (a *testApp) Store(context.Context) (*sqlite.Store, error) { return a.store, nil }
func (a *testApp) Game(context.Context) (*game.Service, error) { return a.game, nil }
func (a *testApp) ServerConfig() server.Config { return a.server }
func (a *testApp) DiscordConfig() discord.Config { return a.discord }
func (a *testApp) Logger() *zerolog.Logger { return a.logger }
func (a *testApp) Version() string { return "test" }
func (a *testApp) Commit() string { return "none" }
func (a *testApp) Date() string { return "today" }
func (a *testApp) BuiltBy() string { return "go test" }

func (a *testApp) Shutdown(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown++
	a.router.Shutdown()
	return a.store.Close()
}

type stubSession struct {
	mu     sync.Mutex
	opened bool
	closed bool
}

func (s *stubSession) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSession) AddHandler(interface{}) func() { return func() {} }

func (s *stubSession) ApplicationCommandBulkOverwrite(_, _ string, cmds []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return cmds, nil
}

func (s *stubSession) InteractionRespond(*discordgo.Interaction, *discordgo.InteractionResponse, ...discordgo.RequestOption) error {
	return nil
}

func (s *stubSession) ChannelMessageSendEmbed(channelID string, _ *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return &discordgo.Message{ChannelID: channelID}, nil
}

func TestApplyFlags(t *testing.T) {
	app := newTestApp(t)
	base := app.ServerConfig()
	base.APIKey = "from-env"

	cmd := NewCommand(app)
	require.NoError(t, cmd.ParseFlags([]string{
		"--port", "9090",
		"--cors-origins", "https://a.example,https://b.example",
		"--metrics-interval", "30s",
	}))

	cfg, err := applyFlags(cmd, base)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.CORSEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.MetricsInterval)
	// unset flags keep the configured values
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, base.Host, cfg.Host)
	assert.Equal(t, base.QueueSize, cfg.QueueSize)
}

func TestApplyFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"port too large", []string{"--port", "70000"}},
		{"zero queue", []string{"--queue-size", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCommand(newTestApp(t))
			require.NoError(t, cmd.ParseFlags(tt.args))
			_, err := applyFlags(cmd, server.DefaultConfig())
			assert.Error(t, err)
		})
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	app := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, app, app.ServerConfig()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, app.router.Closed())
	assert.Equal(t, 1, app.shutdown)
}

func TestRun_ListenError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	app := newTestApp(t)
	cfg := app.ServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = busy.Addr().(*net.TCPAddr).Port

	err = Run(context.Background(), app, cfg)
	assert.Error(t, err)
	assert.False(t, app.router.Closed())
}

func TestRun_StartsDiscord(t *testing.T) {
	session := &stubSession{}
	orig := newSession
	newSession = func(string) (discord.Session, error) { return session, nil }
	t.Cleanup(func() { newSession = orig })

	app := newTestApp(t)
	app.discord = discord.Config{
		Token:           "token",
		AppID:           "app",
		GuildID:         "g1",
		AnnounceChannel: "c1",
		AnnounceQueue:   4,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, app, app.ServerConfig()) }()

	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.opened
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.True(t, session.closed)
}
