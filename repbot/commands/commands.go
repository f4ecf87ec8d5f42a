package commands

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"

	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/repbot"
	"github.com/disgoorg/repbot/repbot/services"
)

var Commands = []discord.ApplicationCommandCreate{
	Rep,
	RepAdmin,
}

func timeframeOption(required bool) discord.ApplicationCommandOptionString {
	choices := make([]discord.ApplicationCommandOptionChoiceString, 0, len(scores.Timeframes))
	for _, tf := range scores.Timeframes {
		choices = append(choices, discord.ApplicationCommandOptionChoiceString{Name: tf.Title(), Value: string(tf)})
	}
	return discord.ApplicationCommandOptionString{
		Name:        "timeframe",
		Description: "Which leaderboard to show (default: all time)",
		Required:    required,
		Choices:     choices,
	}
}

func optTimeframe(e *handler.CommandEvent) scores.Timeframe {
	raw, ok := e.SlashCommandInteractionData().OptString("timeframe")
	if !ok {
		return scores.AllTime
	}
	tf, err := scores.ParseTimeframe(raw)
	if err != nil {
		return scores.AllTime
	}
	return tf
}

// isModerator reports whether the caller holds a moderator role or is an administrator.
func isModerator(b *repbot.Bot, e *handler.CommandEvent) bool {
	member := e.Member()
	if member == nil {
		return false
	}
	if member.Permissions.Has(discord.PermissionAdministrator) {
		return true
	}
	return services.HasAnyRole(member.RoleIDs, b.Cfg.Bot.ModeratorRoles)
}
