package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/internal/server/events"
)

// ActionSource is the part of the event router the announcer listens on.
type ActionSource interface {
	OnDashboardAction(t events.Type, fn events.Listener) (unsubscribe func())
}

// AnnouncedActions are the dashboard actions posted to Discord.
var AnnouncedActions = []events.Type{
	events.ItemPurchased,
	events.MissionCompleted,
	events.FactionCreated,
	events.FactionJoined,
}

// Announcer posts dashboard actions to the guild's announcement channel.
// Listeners only enqueue; Run performs the Discord calls so a slow API never
// stalls the publisher.
type Announcer struct {
	session   Session
	guildID   string
	channelID string
	queue     chan *discordgo.MessageEmbed
	logger    *zerolog.Logger
}

// NewAnnouncer creates an announcer for cfg's guild and channel.
func NewAnnouncer(cfg Config, session Session, logger *zerolog.Logger) *Announcer {
	size := cfg.AnnounceQueue
	if size <= 0 {
		size = 64
	}
	return &Announcer{
		session:   session,
		guildID:   cfg.GuildID,
		channelID: cfg.AnnounceChannel,
		queue:     make(chan *discordgo.MessageEmbed, size),
		logger:    logger,
	}
}

// Attach registers the announcer for every announced action and returns a
// func that removes all of them.
func (a *Announcer) Attach(src ActionSource) func() {
	unsubs := make([]func(), 0, len(AnnouncedActions))
	for _, t := range AnnouncedActions {
		unsubs = append(unsubs, src.OnDashboardAction(t, a.Announce))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Announce queues the embed for a dashboard action. Events for other guilds
// are ignored when a guild is configured.
func (a *Announcer) Announce(e events.Event) error {
	if a.guildID != "" && e.ServerID != a.guildID {
		return nil
	}
	embed := actionEmbed(e)
	if embed == nil {
		return nil
	}
	select {
	case a.queue <- embed:
		return nil
	default:
		return fmt.Errorf("announcement queue full, dropped %s", e.Type)
	}
}

// Run posts queued announcements until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case embed := <-a.queue:
			if _, err := a.session.ChannelMessageSendEmbed(a.channelID, embed); err != nil {
				a.logger.Error().Err(err).
					Str("channel_id", a.channelID).
					Msg("Failed to post announcement")
			}
		}
	}
}

// actionEmbed renders a dashboard action, or nil for events without a
// known payload.
func actionEmbed(e events.Event) *discordgo.MessageEmbed {
	footer := &discordgo.MessageEmbedFooter{Text: "via the dashboard"}
	ts := e.Timestamp.Time.UTC().Format("2006-01-02T15:04:05Z07:00")

	switch p := e.Payload.(type) {
	case events.ItemPurchasedPayload:
		return &discordgo.MessageEmbed{
			Title:       "Treasury purchase",
			Description: fmt.Sprintf("<@%s> acquired %d x **%s** for %d spirit stones.", p.UserID, p.Quantity, title(p.ItemName), p.Cost),
			Color:       ColorGold,
			Footer:      footer,
			Timestamp:   ts,
		}
	case events.MissionCompletedPayload:
		return &discordgo.MessageEmbed{
			Title:       "Mission complete",
			Description: fmt.Sprintf("<@%s> completed **%s** (+%d xp, +%d stones).", p.UserID, title(p.MissionName), p.XP, p.Stones),
			Color:       ColorJade,
			Footer:      footer,
			Timestamp:   ts,
		}
	case events.FactionCreatedPayload:
		return &discordgo.MessageEmbed{
			Title:       "A new faction rises",
			Description: fmt.Sprintf("<@%s> founded **%s**.", p.LeaderID, title(p.Name)),
			Color:       ColorGold,
			Footer:      footer,
			Timestamp:   ts,
		}
	case events.FactionJoinedPayload:
		return &discordgo.MessageEmbed{
			Title:       "Faction joined",
			Description: fmt.Sprintf("<@%s> joined **%s**.", p.UserID, title(p.Name)),
			Color:       ColorJade,
			Footer:      footer,
			Timestamp:   ts,
		}
	}
	return nil
}
