package leaderboard

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/disgoorg/repbot/internal/domain/content"
	"github.com/disgoorg/repbot/internal/domain/history"
	"github.com/disgoorg/repbot/internal/domain/scores"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
	"(", `\(`,
	")", `\)`,
	"|", `\|`,
	"#", `\#`,
	">", `\>`,
)

// EscapeMarkdown neutralises characters with meaning in page markdown.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func userLink(root, username string) string {
	return "/" + content.Join(root, "user", url.PathEscape(username))
}

func formatScore(score int64, suffix string) string {
	s := strconv.FormatInt(score, 10)
	if suffix != "" {
		s += " " + suffix
	}
	return s
}

// renderBoard builds the main page. Output depends only on its inputs so an
// unchanged board renders byte-identical content.
func renderBoard(root, suffix string, sections []Section) string {
	var sb strings.Builder
	sb.WriteString("# Reputation Leaderboard\n")

	for _, sec := range sections {
		fmt.Fprintf(&sb, "\n## %s\n\n", sec.Timeframe.Title())
		if len(sec.Entries) == 0 {
			sb.WriteString("_No points awarded yet._\n")
			continue
		}
		sb.WriteString("| Rank | User | Score |\n")
		sb.WriteString("|---:|:---|---:|\n")
		for _, e := range sec.Entries {
			fmt.Fprintf(&sb, "| %d | [%s](%s) | %s |\n",
				e.Rank,
				EscapeMarkdown(e.Username),
				userLink(root, e.Username),
				formatScore(e.Score, suffix),
			)
		}
	}
	return sb.String()
}

func renderUser(username string, total int64, suffix string, records []history.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", EscapeMarkdown(username))
	fmt.Fprintf(&sb, "**Total score:** %s\n", formatScore(total, suffix))

	sb.WriteString("\n## Recent awards\n\n")
	if len(records) == 0 {
		sb.WriteString("_No awards recorded._\n")
		return sb.String()
	}
	sb.WriteString("| Date | From | Link |\n")
	sb.WriteString("|:---|:---|:---|\n")
	for _, r := range records {
		link := "-"
		if r.Permalink != "" {
			link = fmt.Sprintf("[view](%s)", r.Permalink)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s |\n",
			r.CreatedAt.UTC().Format("2006-01-02"),
			EscapeMarkdown(r.Awarder),
			link,
		)
	}
	return sb.String()
}

func rank(members []scores.Member) []Entry {
	entries := make([]Entry, len(members))
	for i, m := range members {
		entries[i] = Entry{Rank: i + 1, Username: m.Name, Score: m.Score}
	}
	return entries
}
