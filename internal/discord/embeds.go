package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agentstation/cultivate/internal/game"
)

// Embed colours.
const (
	ColorJade  = 0x00a86b
	ColorGold  = 0xd4af37
	ColorError = 0xb22222
)

var titleCaser = cases.Title(language.English)

func title(s string) string {
	return titleCaser.String(s)
}

func errorEmbed(msg string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "The heavens refuse",
		Description: msg,
		Color:       ColorError,
	}
}

func progressEmbed(heading string, p *game.Progress) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title: heading,
		Color: ColorJade,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Experience", Value: fmt.Sprintf("+%d", p.XPGained), Inline: true},
			{Name: "Level", Value: fmt.Sprintf("%d", p.User.Level), Inline: true},
			{Name: "Realm", Value: title(p.Realm), Inline: true},
		},
	}
	switch {
	case p.RealmChanged:
		e.Description = fmt.Sprintf("**%s** breaks through to the **%s** realm!", p.User.DisplayName, title(p.Realm))
		e.Color = ColorGold
	case p.LevelsGained > 0:
		e.Description = fmt.Sprintf("**%s** advances %d level(s).", p.User.DisplayName, p.LevelsGained)
	}
	return e
}

func sparEmbed(r *game.SparResult) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Spar",
		Description: fmt.Sprintf("**%s** defeats **%s**.", r.Winner.User.DisplayName, r.Loser.User.DisplayName),
		Color:       ColorJade,
		Fields: []*discordgo.MessageEmbedField{
			{Name: r.Winner.User.DisplayName, Value: fmt.Sprintf("+%d xp, level %d", r.Winner.XPGained, r.Winner.User.Level), Inline: true},
			{Name: r.Loser.User.DisplayName, Value: fmt.Sprintf("+%d xp, level %d", r.Loser.XPGained, r.Loser.User.Level), Inline: true},
		},
	}
}

func profileEmbed(p *game.Profile) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title: p.User.DisplayName,
		Color: ColorJade,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Realm", Value: title(p.Realm), Inline: true},
			{Name: "Level", Value: fmt.Sprintf("%d (%d xp to next)", p.User.Level, p.XPToNext), Inline: true},
			{Name: "Spirit stones", Value: fmt.Sprintf("%d", p.User.Stones), Inline: true},
			{Name: "Power", Value: fmt.Sprintf("%d", p.Power), Inline: true},
		},
	}
	if p.Faction != nil {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Faction", Value: p.Faction.Name, Inline: true})
	}
	if len(p.Inventory) > 0 {
		lines := make([]string, len(p.Inventory))
		for i, it := range p.Inventory {
			lines[i] = fmt.Sprintf("%s x%d", it.ItemID, it.Quantity)
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Inventory", Value: strings.Join(lines, "\n")})
	}
	return e
}

func shopEmbed(items []game.Item) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Title: "Sect Treasury", Color: ColorGold}
	for _, it := range items {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s (%d stones)", title(it.Name), it.Price),
			Value: fmt.Sprintf("`%s` %s", it.ID, it.Description),
		})
	}
	return e
}
