package award

import (
	"context"
	"log/slog"

	"github.com/disgoorg/repbot/internal/domain/history"
	"github.com/disgoorg/repbot/internal/domain/labels"
	"github.com/disgoorg/repbot/internal/domain/notify"
	"github.com/disgoorg/repbot/internal/domain/reconcile"
	"github.com/disgoorg/repbot/internal/domain/settings"
)

// afterCommit runs the optional side effects of an accepted award. Failures
// are logged and never undo the score change.
func (g *Gate) afterCommit(ctx context.Context, cfg *settings.Settings, ev Event, out Outcome, eff reconcile.Result, current currentLabel) {
	recipient := out.Recipient

	if g.history != nil {
		err := g.history.Append(ctx, history.Record{
			Awarder:    ev.Author,
			Recipient:  recipient,
			Community:  ev.Community,
			PostID:     ev.PostID,
			TargetID:   ev.Target.ID,
			Permalink:  ev.Permalink,
			ScoreAfter: out.NewScore,
			CreatedAt:  g.now().UTC(),
		})
		warnOnErr(err, "Failed to record award history", recipient)
	}

	if current.known && !eff.LabelInvalid && labels.ShouldRewrite(cfg.LabelPolicy, current.text, current.exists) {
		err := g.labels.SetUserLabel(ctx, ev.Community, recipient, labels.ScoreText(out.NewScore))
		warnOnErr(err, "Failed to update user label", recipient)
	}

	if cfg.PostLabelOnAward != "" && ev.PostID != "" {
		err := g.labels.SetPostLabel(ctx, ev.Community, ev.PostID, cfg.PostLabelOnAward)
		warnOnErr(err, "Failed to update post label", recipient)
	}

	if g.messenger == nil {
		return
	}
	values := notify.Values{
		Author:    ev.Author,
		Recipient: recipient,
		Score:     out.NewScore,
		Permalink: ev.Permalink,
		Threshold: cfg.SuperuserThreshold,
	}

	if cfg.NotifyOnSuccess != settings.NotifyNone {
		g.notifyAwarder(ctx, cfg, ev, cfg.Templates.Success, values)
	}
	if cfg.NotifyRecipient && cfg.Templates.Recipient != "" {
		err := g.messenger.DirectMessage(ctx, recipient, notify.Render(cfg.Templates.Recipient, values))
		warnOnErr(err, "Failed to notify award recipient", recipient)
	}
	if cfg.NotifyPromotion && crossedThreshold(cfg, recipient, out.OldScore, out.NewScore) && cfg.Templates.Promotion != "" {
		err := g.messenger.DirectMessage(ctx, recipient, notify.Render(cfg.Templates.Promotion, values))
		warnOnErr(err, "Failed to send promotion notice", recipient)
	}
}

// crossedThreshold reports a first automatic promotion to superuser.
func crossedThreshold(cfg *settings.Settings, recipient string, before, after int64) bool {
	if cfg.SuperuserThreshold <= 0 || settings.ContainsFold(cfg.Superusers, recipient) {
		return false
	}
	return before < cfg.SuperuserThreshold && after >= cfg.SuperuserThreshold
}

// notifyAwarder replies in the post unless direct messages are configured.
func (g *Gate) notifyAwarder(ctx context.Context, cfg *settings.Settings, ev Event, tmpl string, v notify.Values) {
	if tmpl == "" || g.messenger == nil {
		return
	}
	text := notify.Render(tmpl, v)
	var err error
	if cfg.NotifyOnSuccess == settings.NotifyDM {
		err = g.messenger.DirectMessage(ctx, ev.Author, text)
	} else {
		err = g.messenger.Reply(ctx, ev.PostID, ev.ID, text)
	}
	warnOnErr(err, "Failed to notify awarder", ev.Author)
}

func warnOnErr(err error, msg, username string) {
	if err == nil {
		return
	}
	slog.Warn(msg,
		slog.String("type", "award"),
		slog.String("user_name", username),
		slog.Any("error", err),
	)
}
