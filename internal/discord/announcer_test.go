package discord

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/cultivate/internal/server/events"
)

func newTestAnnouncer(t *testing.T, queue int) (*Announcer, *fakeSession, *events.Router) {
	t.Helper()
	logger := zerolog.Nop()
	router := events.NewRouter(&logger)
	t.Cleanup(router.Shutdown)

	session := &fakeSession{}
	a := NewAnnouncer(Config{GuildID: "G1", AnnounceChannel: "C1", AnnounceQueue: queue}, session, &logger)
	return a, session, router
}

func TestAnnouncer_PostsDashboardActions(t *testing.T) {
	a, session, router := newTestAnnouncer(t, 8)
	detach := a.Attach(router)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	router.EmitFromDashboard(events.New("G1", events.ItemPurchasedPayload{UserID: "u1", ItemID: "iron-sword", ItemName: "iron sword", Quantity: 1, Cost: 120}))
	router.EmitFromDashboard(events.New("G1", events.FactionCreatedPayload{FactionID: "f1", Name: "azure cloud sect", LeaderID: "u1"}))

	require.Eventually(t, func() bool { return session.postedCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, []string{"C1", "C1"}, session.channels)
	assert.Contains(t, session.posted[0].Description, "**Iron Sword**")
	assert.Contains(t, session.posted[1].Description, "**Azure Cloud Sect**")
	assert.NotEmpty(t, session.posted[0].Timestamp)
}

func TestAnnouncer_IgnoresBotEventsAndOtherGuilds(t *testing.T) {
	a, _, router := newTestAnnouncer(t, 8)
	a.Attach(router)

	router.EmitFromBot(events.New("G1", events.ItemPurchasedPayload{UserID: "u1", ItemName: "pill", Quantity: 1}))
	router.EmitFromDashboard(events.New("G2", events.ItemPurchasedPayload{UserID: "u1", ItemName: "pill", Quantity: 1}))
	router.EmitFromDashboard(events.New("G1", events.LevelUpPayload{UserID: "u1"}))

	assert.Empty(t, a.queue)
}

func TestAnnouncer_QueueFullDrops(t *testing.T) {
	a, _, _ := newTestAnnouncer(t, 1)

	e := events.New("G1", events.MissionCompletedPayload{UserID: "u1", MissionName: "herb gathering", XP: 60, Stones: 30})
	require.NoError(t, a.Announce(e))
	assert.Error(t, a.Announce(e))
	assert.Len(t, a.queue, 1)
}

func TestAnnouncer_DetachRemovesListeners(t *testing.T) {
	a, _, router := newTestAnnouncer(t, 8)
	detach := a.Attach(router)
	detach()

	router.EmitFromDashboard(events.New("G1", events.FactionJoinedPayload{FactionID: "f1", Name: "sect", UserID: "u2"}))
	assert.Empty(t, a.queue)
}

func TestActionEmbed(t *testing.T) {
	tests := []struct {
		name  string
		event events.Event
		want  string
	}{
		{"purchase", events.New("G1", events.ItemPurchasedPayload{UserID: "u1", ItemName: "jade talisman", Quantity: 2, Cost: 600}), "<@u1> acquired 2 x **Jade Talisman** for 600 spirit stones."},
		{"mission", events.New("G1", events.MissionCompletedPayload{UserID: "u1", MissionName: "beast hunt", XP: 200, Stones: 90}), "<@u1> completed **Beast Hunt** (+200 xp, +90 stones)."},
		{"faction created", events.New("G1", events.FactionCreatedPayload{Name: "iron fist", LeaderID: "u3"}), "<@u3> founded **Iron Fist**."},
		{"faction joined", events.New("G1", events.FactionJoinedPayload{Name: "iron fist", UserID: "u4"}), "<@u4> joined **Iron Fist**."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embed := actionEmbed(tt.event)
			require.NotNil(t, embed)
			assert.Equal(t, tt.want, embed.Description)
		})
	}

	assert.Nil(t, actionEmbed(events.NewRaw("giftSent", "G1", nil)))
}
