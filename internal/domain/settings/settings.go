// Package settings is the typed reputation configuration shared by every core
// operation. A Settings value is decoded from the [reputation] table of the
// config file, validated once, and then passed explicitly.
package settings

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrFeatureDisabled is returned when a guarded capability is switched off.
var ErrFeatureDisabled = errors.New("feature disabled")

type TriggerMode string

const (
	TriggerSubstring TriggerMode = "substring"
	TriggerRegex     TriggerMode = "regex"
)

// LabelPolicy controls when the user's score label is rewritten after an award.
type LabelPolicy string

const (
	// OverwriteNumeric rewrites only empty or purely numeric labels.
	OverwriteNumeric LabelPolicy = "overwrite-numeric"
	// OverwriteAll writes a label only when none exists.
	OverwriteAll LabelPolicy = "overwrite-all"
	NeverSet     LabelPolicy = "never"
)

type NotifyMode string

const (
	NotifyNone  NotifyMode = "none"
	NotifyReply NotifyMode = "reply"
	NotifyDM    NotifyMode = "dm"
)

type LeaderboardMode string

const (
	LeaderboardOff        LeaderboardMode = "off"
	LeaderboardPublic     LeaderboardMode = "public"
	LeaderboardModerators LeaderboardMode = "moderators"
)

type Settings struct {
	BotUsername  string   `toml:"bot_username"`
	AutomodNames []string `toml:"automod_names"`

	TriggerPhrases   []string    `toml:"trigger_phrases"`
	TriggerMode      TriggerMode `toml:"trigger_mode"`
	PrivilegedPhrase string      `toml:"privileged_phrase"`
	AnyoneCanAward   bool        `toml:"anyone_can_award"`

	Superusers         []string `toml:"superusers"`
	SuperuserThreshold int64    `toml:"superuser_threshold"`

	CannotAward       []string `toml:"cannot_award"`
	CannotBeAwarded   []string `toml:"cannot_be_awarded"`
	IgnoredPostLabels []string `toml:"ignored_post_labels"`

	LabelPolicy      LabelPolicy `toml:"label_policy"`
	PrioritiseLabel  bool        `toml:"prioritise_label"`
	PostLabelOnAward string      `toml:"post_label_on_award"`

	NotifyOnSuccess   NotifyMode `toml:"notify_on_success"`
	NotifyRecipient   bool       `toml:"notify_recipient"`
	NotifyOnSelfAward bool       `toml:"notify_on_self_award"`
	NotifyPromotion   bool       `toml:"notify_promotion"`
	Templates         Templates  `toml:"templates"`

	Leaderboard Leaderboard `toml:"leaderboard"`
	Cleanup     Cleanup     `toml:"cleanup"`

	BackupEnabled  bool `toml:"backup_enabled"`
	RestoreEnabled bool `toml:"restore_enabled"`

	regexes []*regexp.Regexp
}

// Templates use {{author}}, {{recipient}}, {{score}}, {{permalink}} and
// {{threshold}} placeholders.
type Templates struct {
	Success   string `toml:"success"`
	Recipient string `toml:"recipient"`
	SelfAward string `toml:"self_award"`
	Promotion string `toml:"promotion"`
}

type Leaderboard struct {
	Mode        LeaderboardMode `toml:"mode"`
	Size        int             `toml:"size"`
	Root        string          `toml:"root"`
	ScoreSuffix string          `toml:"score_suffix"`
	AllTimeOnly bool            `toml:"all_time_only"`
}

type Cleanup struct {
	Cron         string `toml:"cron"`
	IntervalDays int    `toml:"interval_days"`
}

// Interval is the time between liveness checks of one user.
func (c Cleanup) Interval() time.Duration {
	return time.Duration(c.IntervalDays) * 24 * time.Hour
}

// Default returns the settings used for any key the config file leaves out.
func Default() Settings {
	return Settings{
		BotUsername:      "repbot",
		AutomodNames:     []string{"automoderator"},
		TriggerPhrases:   []string{"!thanks", "!rep"},
		TriggerMode:      TriggerSubstring,
		PrivilegedPhrase: "!award",
		AnyoneCanAward:   true,
		LabelPolicy:      OverwriteNumeric,
		NotifyOnSuccess:  NotifyReply,
		NotifyPromotion:  true,
		Templates: Templates{
			Success:   "Thanks {{author}}! You awarded a point to {{recipient}}, who now has {{score}}.",
			Recipient: "You received a reputation point from {{author}}: {{permalink}}. Your score is now {{score}}.",
			SelfAward: "You can't award yourself a point, {{author}}.",
			Promotion: "Congratulations {{recipient}}! You reached {{threshold}} points and can now use the privileged award command.",
		},
		Leaderboard: Leaderboard{
			Mode: LeaderboardPublic,
			Size: 20,
			Root: "leaderboard",
		},
		Cleanup: Cleanup{
			Cron:         "0 */6 * * *",
			IntervalDays: 28,
		},
		BackupEnabled:  true,
		RestoreEnabled: true,
	}
}

// Validate checks every tunable and compiles regex triggers. It must be called
// before the value is used.
func (s *Settings) Validate() error {
	var errs []error

	if strings.TrimSpace(s.BotUsername) == "" {
		errs = append(errs, errors.New("bot_username is required"))
	}

	switch s.TriggerMode {
	case TriggerSubstring, TriggerRegex:
	default:
		errs = append(errs, fmt.Errorf("trigger_mode %q must be %q or %q", s.TriggerMode, TriggerSubstring, TriggerRegex))
	}

	s.regexes = s.regexes[:0]
	if s.TriggerMode == TriggerRegex {
		for _, phrase := range s.TriggerPhrases {
			re, err := regexp.Compile("(?i)" + phrase)
			if err != nil {
				errs = append(errs, fmt.Errorf("trigger phrase %q: %w", phrase, err))
				continue
			}
			s.regexes = append(s.regexes, re)
		}
	}

	switch s.LabelPolicy {
	case OverwriteNumeric, OverwriteAll, NeverSet:
	default:
		errs = append(errs, fmt.Errorf("label_policy %q is not recognised", s.LabelPolicy))
	}

	switch s.NotifyOnSuccess {
	case NotifyNone, NotifyReply, NotifyDM:
	default:
		errs = append(errs, fmt.Errorf("notify_on_success %q is not recognised", s.NotifyOnSuccess))
	}

	switch s.Leaderboard.Mode {
	case LeaderboardOff, LeaderboardPublic, LeaderboardModerators:
	default:
		errs = append(errs, fmt.Errorf("leaderboard.mode %q is not recognised", s.Leaderboard.Mode))
	}
	if s.Leaderboard.Mode != LeaderboardOff {
		if s.Leaderboard.Size < 1 || s.Leaderboard.Size > 100 {
			errs = append(errs, fmt.Errorf("leaderboard.size %d must be between 1 and 100", s.Leaderboard.Size))
		}
		if strings.Trim(s.Leaderboard.Root, "/") == "" {
			errs = append(errs, errors.New("leaderboard.root is required"))
		}
	}

	if s.SuperuserThreshold < 0 {
		errs = append(errs, errors.New("superuser_threshold must not be negative"))
	}
	if s.Cleanup.IntervalDays < 1 {
		errs = append(errs, errors.New("cleanup.interval_days must be positive"))
	}
	if _, err := cron.ParseStandard(s.Cleanup.Cron); err != nil {
		errs = append(errs, fmt.Errorf("cleanup.cron %q: %w", s.Cleanup.Cron, err))
	}

	return errors.Join(errs...)
}

// TriggerRegexes returns the compiled trigger phrases when regex mode is on.
func (s *Settings) TriggerRegexes() []*regexp.Regexp {
	return s.regexes
}

// InvalidTriggerPhrases compiles every phrase again and reports the failures.
func (s *Settings) InvalidTriggerPhrases() map[string]error {
	if s.TriggerMode != TriggerRegex {
		return nil
	}
	bad := make(map[string]error)
	for _, phrase := range s.TriggerPhrases {
		if _, err := regexp.Compile("(?i)" + phrase); err != nil {
			bad[phrase] = err
		}
	}
	return bad
}

// IsSuperuser reports allow-list membership or threshold promotion.
func (s *Settings) IsSuperuser(username string, effectiveScore int64) bool {
	if ContainsFold(s.Superusers, username) {
		return true
	}
	return s.SuperuserThreshold > 0 && effectiveScore >= s.SuperuserThreshold
}

// IsBotOrAutomod reports whether username belongs to the bot or an automod account.
func (s *Settings) IsBotOrAutomod(username string) bool {
	return strings.EqualFold(username, s.BotUsername) || ContainsFold(s.AutomodNames, username)
}

// ContainsFold reports whether list holds s ignoring case.
func ContainsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), s) {
			return true
		}
	}
	return false
}
