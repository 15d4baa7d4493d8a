// Package discord runs the Discord side of the game: slash commands that
// mutate game state with bot origin, and an announcer that posts dashboard
// actions to a guild channel.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/agentstation/cultivate/internal/game"
	"github.com/agentstation/cultivate/pkg/errors"
)

// commandTimeout bounds the game work behind one interaction. Discord
// expects a reply within three seconds.
const commandTimeout = 2500 * time.Millisecond

var errUnknownCommand = errors.New("unknown command")

// Bot handles slash command interactions.
type Bot struct {
	cfg     Config
	session Session
	game    *game.Service
	logger  *zerolog.Logger
	detach  func()
}

// NewBot creates a bot on session.
func NewBot(cfg Config, session Session, svc *game.Service, logger *zerolog.Logger) *Bot {
	return &Bot{
		cfg:     cfg,
		session: session,
		game:    svc,
		logger:  logger,
	}
}

// Start opens the gateway session and registers the slash commands.
func (b *Bot) Start() error {
	b.detach = b.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.HandleInteraction(i)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	if b.cfg.RegisterCommands {
		defs := commandDefinitions(b.game.Catalog())
		if _, err := b.session.ApplicationCommandBulkOverwrite(b.cfg.AppID, b.cfg.GuildID, defs); err != nil {
			return fmt.Errorf("register slash commands: %w", err)
		}
		b.logger.Info().
			Int("commands", len(defs)).
			Str("guild_id", b.cfg.GuildID).
			Msg("Slash commands registered")
	}

	b.logger.Info().Msg("Discord bot started")
	return nil
}

// Close stops handling interactions and closes the session.
func (b *Bot) Close() error {
	if b.detach != nil {
		b.detach()
		b.detach = nil
	}
	return b.session.Close()
}

// HandleInteraction answers one slash command interaction.
func (b *Bot) HandleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	inv := parseInvocation(i)
	logger := b.logger.With().
		Str("command", inv.name).
		Str("guild_id", inv.guildID).
		Str("user_id", inv.userID).
		Logger()

	if inv.guildID == "" {
		b.respond(i, errorEmbed("Cultivation happens inside a server."), true, &logger)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	embed, err := b.run(ctx, inv)
	if err != nil {
		b.respond(i, errorEmbed(userMessage(err, &logger)), true, &logger)
		return
	}
	b.respond(i, embed, false, &logger)
}

func (b *Bot) respond(i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool, logger *zerolog.Logger) {
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to respond to interaction")
	}
}

// userMessage turns a game error into a reply. Unexpected errors are logged
// and replaced with a generic message.
func userMessage(err error, logger *zerolog.Logger) string {
	switch {
	case errors.IsInsufficientFunds(err):
		return "You do not have enough spirit stones."
	case errors.IsNotFound(err):
		return "Nothing by that name exists in this realm. Try /cultivate first."
	case errors.IsValidationError(err), errors.IsAlreadyExists(err):
		return err.Error()
	case errors.Is(err, errUnknownCommand):
		return "Unknown technique."
	}
	logger.Error().Err(err).Msg("Slash command failed")
	return "Something went wrong. Try again later."
}
