package award

import (
	"strings"

	"github.com/disgoorg/repbot/internal/domain/settings"
)

type Trigger int

const (
	TriggerNone Trigger = iota
	// TriggerAnyone is one of the configured plain phrases.
	TriggerAnyone
	// TriggerPrivileged is the moderator and superuser phrase.
	TriggerPrivileged
)

func (t Trigger) String() string {
	switch t {
	case TriggerAnyone:
		return "anyone"
	case TriggerPrivileged:
		return "privileged"
	default:
		return "none"
	}
}

// DetectTrigger checks the privileged phrase first, then the plain phrases.
func DetectTrigger(cfg *settings.Settings, body string) Trigger {
	lower := strings.ToLower(body)

	if p := strings.TrimSpace(cfg.PrivilegedPhrase); p != "" && strings.Contains(lower, strings.ToLower(p)) {
		return TriggerPrivileged
	}

	if cfg.TriggerMode == settings.TriggerRegex {
		for _, re := range cfg.TriggerRegexes() {
			if re.MatchString(body) {
				return TriggerAnyone
			}
		}
		return TriggerNone
	}

	for _, phrase := range cfg.TriggerPhrases {
		phrase = strings.TrimSpace(phrase)
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return TriggerAnyone
		}
	}
	return TriggerNone
}
