package commands

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/paginator"

	"github.com/disgoorg/repbot/internal/domain/leaderboard"
	"github.com/disgoorg/repbot/repbot"
	"github.com/disgoorg/repbot/repbot/config"
	"github.com/disgoorg/repbot/repbot/utils"
)

// leaderboardLimit caps how many entries the paginated leaderboard fetches.
const leaderboardLimit = 100

var Rep = discord.SlashCommandCreate{
	Name:        "rep",
	Contexts:    []discord.InteractionContextType{discord.InteractionContextTypeGuild},
	Description: "Reputation points",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionSubCommand{
			Name:        "leaderboard",
			Description: "Show the reputation leaderboard",
			Options:     []discord.ApplicationCommandOption{timeframeOption(false)},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "score",
			Description: "Show a user's all-time score",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:         "username",
					Description:  "User to look up (default: you)",
					Autocomplete: true,
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "snapshot",
			Description: "Render the leaderboard as an image",
			Options:     []discord.ApplicationCommandOption{timeframeOption(false)},
		},
	},
}

func RepHandler(b *repbot.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		switch *e.SlashCommandInteractionData().SubCommandName {
		case "leaderboard":
			return handleLeaderboard(b, e)
		case "score":
			return handleScore(b, e)
		case "snapshot":
			return handleSnapshot(b, e)
		default:
			return utils.EH.CreateUserError(e, "Invalid subcommand")
		}
	}
}

func handleLeaderboard(b *repbot.Bot, e *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()

	tf := optTimeframe(e)
	entries, err := b.App.Leaderboard.Snapshot(ctx, tf, leaderboardLimit)
	if err != nil {
		return utils.EH.CreateSystemError(e, "Failed to read the leaderboard")
	}
	if len(entries) == 0 {
		return utils.EH.CreateInfoEmbed(e, fmt.Sprintf("No points awarded %s yet.", strings.ToLower(tf.Title())))
	}

	suffix := b.App.Settings().Leaderboard.ScoreSuffix
	totalPages := int(math.Ceil(float64(len(entries)) / float64(config.LeaderboardPageSize)))
	return b.Paginator.Create(e.Respond, paginator.Pages{
		ID:      e.ID().String(),
		Creator: e.User().ID,
		PageFunc: func(page int, embed *discord.EmbedBuilder) {
			start := page * config.LeaderboardPageSize
			end := min(start+config.LeaderboardPageSize, len(entries))
			embed.
				SetTitle("🏆 " + tf.Title()).
				SetDescription(FormatEntries(entries[start:end], suffix)).
				SetColor(config.EmbedDefaultColor).
				SetFooter(fmt.Sprintf("Page %d/%d • Ranked: %d", page+1, totalPages, len(entries)), "")
		},
		Pages:      totalPages,
		ExpireMode: paginator.ExpireModeAfterLastUsage,
	}, false)
}

func handleScore(b *repbot.Bot, e *handler.CommandEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()

	username, ok := e.SlashCommandInteractionData().OptString("username")
	if !ok || strings.TrimSpace(username) == "" {
		username = e.User().Username
	}
	score, found, err := b.App.Board.Score(ctx, username)
	if err != nil {
		return utils.EH.CreateSystemError(e, "Failed to read the score")
	}
	if !found {
		return utils.EH.CreateInfoEmbed(e, fmt.Sprintf("**%s** has no points yet.", leaderboard.EscapeMarkdown(username)))
	}
	return utils.EH.CreateInfoEmbed(e, fmt.Sprintf("**%s** has %s.",
		leaderboard.EscapeMarkdown(username), FormatScore(score, b.App.Settings().Leaderboard.ScoreSuffix)))
}

func handleSnapshot(b *repbot.Bot, e *handler.CommandEvent) error {
	if err := e.DeferCreateMessage(false); err != nil {
		return fmt.Errorf("failed to defer response: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.CommandExecutionTimeout-time.Second)
	defer cancel()

	cfg := b.App.Settings()
	tf := optTimeframe(e)
	entries, err := b.App.Leaderboard.Snapshot(ctx, tf, cfg.Leaderboard.Size)
	if err != nil {
		return utils.EH.UpdateWithError(e, utils.SystemError, "Failed to read the leaderboard")
	}
	image, err := b.App.Snapshots.Generate(ctx, tf, cfg.Leaderboard.ScoreSuffix, entries)
	if err != nil {
		return utils.EH.UpdateWithError(e, utils.SystemError, "Failed to render the leaderboard image")
	}

	_, err = e.UpdateInteractionResponse(discord.MessageUpdate{
		Files: []*discord.File{{
			Name:        fmt.Sprintf("leaderboard_%s.png", tf),
			Description: tf.Title() + " leaderboard",
			Reader:      bytes.NewReader(image),
		}},
	})
	return err
}

// FormatEntries renders one leaderboard page.
func FormatEntries(entries []leaderboard.Entry, suffix string) string {
	var sb strings.Builder
	for _, entry := range entries {
		medal := fmt.Sprintf("`#%d`", entry.Rank)
		switch entry.Rank {
		case 1:
			medal = "🥇"
		case 2:
			medal = "🥈"
		case 3:
			medal = "🥉"
		}
		fmt.Fprintf(&sb, "%s **%s** • %s\n", medal, leaderboard.EscapeMarkdown(entry.Username), FormatScore(entry.Score, suffix))
	}
	return sb.String()
}

func FormatScore(score int64, suffix string) string {
	if suffix == "" {
		if score == 1 {
			return "1 point"
		}
		return fmt.Sprintf("%d points", score)
	}
	return fmt.Sprintf("%d %s", score, suffix)
}
