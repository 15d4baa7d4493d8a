package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/agentstation/cultivate/internal/game"
)

// Command names.
const (
	CmdCultivate = "cultivate"
	CmdSpar      = "spar"
	CmdProfile   = "profile"
	CmdShop      = "shop"
	CmdBuy       = "buy"
)

var minQuantity = float64(1)

// commandDefinitions returns the slash command set. Item choices come from
// the catalog so /buy stays in sync with the shop.
func commandDefinitions(catalog *game.Catalog) []*discordgo.ApplicationCommand {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(catalog.Items))
	for _, it := range catalog.Items {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: title(it.Name), Value: it.ID})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        CmdCultivate,
			Description: "Meditate and gather qi",
		},
		{
			Name:        CmdSpar,
			Description: "Challenge another cultivator",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "opponent",
				Description: "Who to spar with",
				Required:    true,
			}},
		},
		{
			Name:        CmdProfile,
			Description: "Show a cultivator's progress",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "Whose profile to show",
			}},
		},
		{
			Name:        CmdShop,
			Description: "Browse the sect treasury",
		},
		{
			Name:        CmdBuy,
			Description: "Buy from the sect treasury",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "item",
					Description: "Item to buy",
					Required:    true,
					Choices:     choices,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "quantity",
					Description: "How many",
					MinValue:    &minQuantity,
					MaxValue:    game.MaxQuantity,
				},
			},
		},
	}
}

// invocation is a parsed slash command.
type invocation struct {
	name        string
	guildID     string
	userID      string
	displayName string
	options     map[string]*discordgo.ApplicationCommandInteractionDataOption
}

func parseInvocation(i *discordgo.InteractionCreate) invocation {
	data := i.ApplicationCommandData()
	inv := invocation{
		name:    data.Name,
		guildID: i.GuildID,
		options: make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options)),
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
		inv.displayName = i.Member.Nick
	}
	if user != nil {
		inv.userID = user.ID
		if inv.displayName == "" {
			inv.displayName = user.GlobalName
		}
		if inv.displayName == "" {
			inv.displayName = user.Username
		}
	}
	for _, opt := range data.Options {
		inv.options[opt.Name] = opt
	}
	return inv
}

// userOption returns the snowflake of a user option.
func (inv invocation) userOption(name string) string {
	opt, ok := inv.options[name]
	if !ok {
		return ""
	}
	id, _ := opt.Value.(string)
	return id
}

func (inv invocation) stringOption(name string) string {
	opt, ok := inv.options[name]
	if !ok {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

func (inv invocation) intOption(name string, def int) int {
	opt, ok := inv.options[name]
	if !ok {
		return def
	}
	if f, ok := opt.Value.(float64); ok {
		return int(f)
	}
	return def
}

// run executes a command against the game and returns the reply embed.
func (b *Bot) run(ctx context.Context, inv invocation) (*discordgo.MessageEmbed, error) {
	switch inv.name {
	case CmdCultivate:
		p, err := b.game.Cultivate(ctx, game.FromDiscord, inv.guildID, inv.userID, inv.displayName)
		if err != nil {
			return nil, err
		}
		return progressEmbed("Cultivation", p), nil

	case CmdSpar:
		r, err := b.game.Spar(ctx, game.FromDiscord, inv.guildID, inv.userID, inv.userOption("opponent"))
		if err != nil {
			return nil, err
		}
		return sparEmbed(r), nil

	case CmdProfile:
		target := inv.userOption("user")
		if target == "" {
			target = inv.userID
		}
		p, err := b.game.Profile(ctx, inv.guildID, target)
		if err != nil {
			return nil, err
		}
		return profileEmbed(p), nil

	case CmdShop:
		return shopEmbed(b.game.Shop()), nil

	case CmdBuy:
		item := inv.stringOption("item")
		qty := inv.intOption("quantity", 1)
		u, err := b.game.Purchase(ctx, game.FromDiscord, inv.guildID, inv.userID, item, qty)
		if err != nil {
			return nil, err
		}
		it, _ := b.game.Catalog().Item(item)
		return &discordgo.MessageEmbed{
			Title:       "Purchase complete",
			Description: fmt.Sprintf("You bought %d x %s.", qty, title(it.Name)),
			Color:       ColorGold,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Spirit stones left", Value: fmt.Sprintf("%d", u.Stones)},
			},
		}, nil
	}
	return nil, errUnknownCommand
}
