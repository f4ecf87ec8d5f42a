package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/sahilm/fuzzy"

	"github.com/disgoorg/repbot/internal/domain/award"
	"github.com/disgoorg/repbot/internal/domain/backup"
	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/leaderboard"
	"github.com/disgoorg/repbot/internal/domain/settings"
	"github.com/disgoorg/repbot/repbot"
	"github.com/disgoorg/repbot/repbot/config"
	"github.com/disgoorg/repbot/repbot/utils"
)

// maxAttachment bounds a downloaded backup file.
const maxAttachment = 8 << 20

// previewLines caps the changes listed in a restore preview.
const previewLines = 15

var downloadClient = &http.Client{Timeout: 5 * time.Second}

func policyOption() discord.ApplicationCommandOptionString {
	return discord.ApplicationCommandOptionString{
		Name:        "policy",
		Description: "How to treat users who already have a score (default: overwrite)",
		Choices: []discord.ApplicationCommandOptionChoiceString{
			{Name: "Overwrite lower scores", Value: string(backup.Overwrite)},
			{Name: "Skip existing users", Value: string(backup.Skip)},
		},
	}
}

func fileOption() discord.ApplicationCommandOptionAttachment {
	return discord.ApplicationCommandOptionAttachment{
		Name:        "file",
		Description: "Backup file to restore (default: the stored backup page)",
	}
}

var RepAdmin = discord.SlashCommandCreate{
	Name:        "repadmin",
	Contexts:    []discord.InteractionContextType{discord.InteractionContextTypeGuild},
	Description: "Reputation administration",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionSubCommand{
			Name:        "export",
			Description: "Export every all-time score to the backup page",
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "restore-preview",
			Description: "Show what a restore would change without writing anything",
			Options:     []discord.ApplicationCommandOption{policyOption(), fileOption()},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "restore",
			Description: "Merge a backup into the all-time scores",
			Options:     []discord.ApplicationCommandOption{policyOption(), fileOption()},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "set-score",
			Description: "Override a user's all-time score (0 removes them)",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:         "username",
					Description:  "User to update",
					Required:     true,
					Autocomplete: true,
				},
				discord.ApplicationCommandOptionInt{
					Name:        "score",
					Description: "New all-time score",
					Required:    true,
					MinValue:    &[]int{0}[0],
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "rebuild",
			Description: "Rebuild the leaderboard pages now",
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "jobs",
			Description: "List pending scheduled jobs",
		},
	},
}

func RepAdminHandler(b *repbot.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		if !isModerator(b, e) {
			return utils.EH.CreatePermissionError(e, "manage reputation")
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
		defer cancel()

		switch *e.SlashCommandInteractionData().SubCommandName {
		case "export":
			return handleExport(ctx, b, e)
		case "restore-preview":
			return handleRestore(ctx, b, e, true)
		case "restore":
			return handleRestore(ctx, b, e, false)
		case "set-score":
			return handleSetScore(ctx, b, e)
		case "rebuild":
			if _, err := jobs.Now(ctx, b.App.Jobs, keys.JobLeaderboardRebuild, time.Now()); err != nil {
				return utils.EH.CreateSystemError(e, "Failed to schedule the rebuild")
			}
			return utils.EH.CreateSuccessEmbed(e, "Leaderboard rebuild scheduled.")
		case "jobs":
			return handleJobs(ctx, b, e)
		default:
			return utils.EH.CreateUserError(e, "Invalid subcommand")
		}
	}
}

func handleExport(ctx context.Context, b *repbot.Bot, e *handler.CommandEvent) error {
	res, err := b.App.Backup.Export(ctx, b.App.Settings())
	switch {
	case errors.Is(err, settings.ErrFeatureDisabled):
		return utils.EH.CreateDisabledNotice(e, "Score export")
	case errors.Is(err, backup.ErrCapacityExceeded):
		return utils.EH.CreateUserError(e, fmt.Sprintf("Too many scores to export (limit %d).", backup.MaxRecords))
	case err != nil:
		return utils.EH.CreateSystemError(e, "Failed to export scores")
	}

	msg := fmt.Sprintf("Exported **%d** scores to the backup page.", res.Records)
	if res.Archive != "" {
		msg += fmt.Sprintf("\nArchived as `%s`.", res.Archive)
	}
	return utils.EH.CreateSuccessEmbed(e, msg)
}

func handleRestore(ctx context.Context, b *repbot.Bot, e *handler.CommandEvent, preview bool) error {
	data := e.SlashCommandInteractionData()
	policy := backup.Overwrite
	if raw, ok := data.OptString("policy"); ok {
		p, err := backup.ParsePolicy(raw)
		if err != nil {
			return utils.EH.CreateUserError(e, err.Error())
		}
		policy = p
	}

	var payload string
	if attachment, ok := data.OptAttachment("file"); ok {
		var err error
		if payload, err = download(ctx, attachment.URL); err != nil {
			return utils.EH.CreateSystemError(e, "Failed to download the backup file")
		}
	}

	var res backup.RestoreResult
	var err error
	if preview {
		res, err = b.App.Backup.Preview(ctx, b.App.Settings(), payload, policy)
	} else {
		res, err = b.App.Backup.Restore(ctx, b.App.Settings(), payload, policy)
	}
	switch {
	case errors.Is(err, settings.ErrFeatureDisabled):
		return utils.EH.CreateDisabledNotice(e, "Score restore")
	case errors.Is(err, backup.ErrMalformedBackup):
		return utils.EH.CreateUserError(e, "The backup is malformed; nothing was restored.")
	case err != nil:
		return utils.EH.CreateSystemError(e, "Failed to restore scores")
	}

	if preview {
		return utils.EH.CreateInfoEmbed(e, FormatPreview(res, policy))
	}
	return utils.EH.CreateSuccessEmbed(e, fmt.Sprintf("Restored **%d** scores, skipped **%d**.", res.Imported, res.Skipped))
}

func handleSetScore(ctx context.Context, b *repbot.Bot, e *handler.CommandEvent) error {
	data := e.SlashCommandInteractionData()
	username := strings.TrimSpace(data.String("username"))
	score := int64(data.Int("score"))

	err := b.App.Gate.SetScore(ctx, b.App.Settings(), e.GuildID().String(), username, score)
	switch {
	case errors.Is(err, award.ErrNegativeScore):
		return utils.EH.CreateUserError(e, "Score must not be negative.")
	case err != nil:
		return utils.EH.CreateSystemError(e, "Failed to set the score")
	}
	if score == 0 {
		return utils.EH.CreateSuccessEmbed(e, fmt.Sprintf("Removed **%s** from the leaderboard.", leaderboard.EscapeMarkdown(username)))
	}
	return utils.EH.CreateSuccessEmbed(e, fmt.Sprintf("Set **%s** to %d.", leaderboard.EscapeMarkdown(username), score))
}

func handleJobs(ctx context.Context, b *repbot.Bot, e *handler.CommandEvent) error {
	pending, err := b.App.Jobs.ListPending(ctx)
	if err != nil {
		return utils.EH.CreateSystemError(e, "Failed to list jobs")
	}
	if len(pending) == 0 {
		return utils.EH.CreateInfoEmbed(e, "No jobs pending.")
	}
	var sb strings.Builder
	for _, p := range pending {
		fmt.Fprintf(&sb, "`%s` **%s** <t:%d:R>", p.ID, p.Name, p.RunAt.Unix())
		if p.Cron != "" {
			fmt.Fprintf(&sb, " • `%s`", p.Cron)
		}
		sb.WriteString("\n")
	}
	return utils.EH.CreateInfoEmbed(e, sb.String())
}

// FormatPreview summarises a restore plan.
func FormatPreview(res backup.RestoreResult, policy backup.Policy) string {
	backup.SortChanges(res.Changes)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Restore with **%s** would write **%d** scores and skip **%d**.\n", policy, res.Imported, res.Skipped)
	for i, c := range res.Changes {
		if i == previewLines {
			fmt.Fprintf(&sb, "…and %d more\n", len(res.Changes)-previewLines)
			break
		}
		name := leaderboard.EscapeMarkdown(c.Username)
		if c.HasScore {
			fmt.Fprintf(&sb, "• %s: %d → %d\n", name, c.Existing, c.Imported)
		} else {
			fmt.Fprintf(&sb, "• %s: new, %d\n", name, c.Imported)
		}
	}
	return sb.String()
}

func download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachment))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// UsernameAutocomplete suggests ranked usernames, fuzzy matched on the typed
// text, then accounts the bot has seen whose name starts with it.
func UsernameAutocomplete(b *repbot.Bot) handler.AutocompleteHandler {
	return func(e *handler.AutocompleteEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		members, err := b.App.Board.AllTimeMembers(ctx)
		if err != nil {
			return e.AutocompleteResult([]discord.AutocompleteChoice{})
		}
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = m.Name
		}

		query := e.Data.String("username")
		matches := MatchUsernames(query, names, config.MaxAutocomplete)
		if query != "" && len(matches) < config.MaxAutocomplete {
			known, err := b.App.Accounts.SearchUsernames(ctx, query, config.MaxAutocomplete)
			if err == nil {
				matches = MergeUsernames(matches, known, config.MaxAutocomplete)
			}
		}
		choices := make([]discord.AutocompleteChoice, 0, len(matches))
		for _, name := range matches {
			choices = append(choices, discord.AutocompleteChoiceString{Name: name, Value: name})
		}
		return e.AutocompleteResult(choices)
	}
}

// MatchUsernames returns up to limit names, best fuzzy matches first. An empty
// query keeps the input order.
func MatchUsernames(query string, names []string, limit int) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return names[:min(limit, len(names))]
	}
	matches := fuzzy.Find(query, names)
	out := make([]string, 0, min(limit, len(matches)))
	for _, m := range matches {
		if len(out) == limit {
			break
		}
		out = append(out, m.Str)
	}
	return out
}

// MergeUsernames appends extra names not already in names, up to limit.
func MergeUsernames(names, extra []string, limit int) []string {
	for _, name := range extra {
		if len(names) >= limit {
			break
		}
		if !slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, name) }) {
			names = append(names, name)
		}
	}
	return names
}
