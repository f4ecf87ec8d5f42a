// Package award validates award trigger events and commits accepted awards.
//
// Validation short-circuits: the first failing check returns a RejectReason
// and nothing is written. Rejections are outcomes, not errors.
package award

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/disgoorg/repbot/internal/domain/cleanup"
	"github.com/disgoorg/repbot/internal/domain/history"
	"github.com/disgoorg/repbot/internal/domain/identity"
	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/labels"
	"github.com/disgoorg/repbot/internal/domain/notify"
	"github.com/disgoorg/repbot/internal/domain/reconcile"
	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/internal/domain/settings"
)

// DedupWindow is how long one (target, awarder) pair stays blocked.
const DedupWindow = 7 * 24 * time.Hour

// Target is the message being awarded.
type Target struct {
	ID     string
	Author string
	// Nested is false for the post itself or a top-level reply.
	Nested bool
}

// Event is an incoming trigger.
type Event struct {
	ID        string
	Author    string
	Body      string
	Community string
	PostID    string
	PostLabel string
	Permalink string
	Target    Target
}

type RejectReason int

const (
	Accepted RejectReason = iota
	RejectTopLevel
	RejectBotAuthor
	RejectNoTrigger
	RejectNotAllowed
	RejectNotPrivileged
	RejectAuthorDenied
	RejectIgnoredLabel
	RejectUnknownTarget
	RejectBotTarget
	RejectSelfAward
	RejectTargetDenied
	RejectDuplicate
)

var reasonNames = map[RejectReason]string{
	Accepted:            "accepted",
	RejectTopLevel:      "target is not nested",
	RejectBotAuthor:     "author is the bot or automod",
	RejectNoTrigger:     "no trigger phrase",
	RejectNotAllowed:    "plain awards are disabled",
	RejectNotPrivileged: "author may not use the privileged trigger",
	RejectAuthorDenied:  "author may not award",
	RejectIgnoredLabel:  "post label is ignored",
	RejectUnknownTarget: "target author could not be resolved",
	RejectBotTarget:     "target is the bot or automod",
	RejectSelfAward:     "self award",
	RejectTargetDenied:  "target may not be awarded",
	RejectDuplicate:     "already awarded",
}

func (r RejectReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reject(%d)", int(r))
}

// Outcome reports what happened to an event.
type Outcome struct {
	Reason    RejectReason
	Trigger   Trigger
	Recipient string
	OldScore  int64
	NewScore  int64
}

func (o Outcome) Accepted() bool {
	return o.Reason == Accepted
}

type Deps struct {
	Store      scores.Backend
	Cleanup    *cleanup.Scheduler
	Jobs       jobs.Scheduler
	Directory  identity.Directory
	Moderators identity.Moderators
	Labels     labels.Store
	History    history.Store
	Messenger  notify.Messenger
	Now        func() time.Time
}

type Gate struct {
	store      scores.Backend
	board      *scores.Board
	reconciler *reconcile.Reconciler
	cleanup    *cleanup.Scheduler
	jobs       jobs.Scheduler
	directory  identity.Directory
	moderators identity.Moderators
	labels     labels.Store
	history    history.Store
	messenger  notify.Messenger
	now        func() time.Time
}

func New(d Deps) *Gate {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	board := scores.NewBoard(d.Store, now)
	return &Gate{
		store:      d.Store,
		board:      board,
		reconciler: reconcile.New(board),
		cleanup:    d.Cleanup,
		jobs:       d.Jobs,
		directory:  d.Directory,
		moderators: d.Moderators,
		labels:     d.Labels,
		history:    d.History,
		messenger:  d.Messenger,
		now:        now,
	}
}

func reject(reason RejectReason, trigger Trigger) (Outcome, error) {
	return Outcome{Reason: reason, Trigger: trigger}, nil
}

// Handle runs the validation pipeline and commits the award when every check
// passes. Errors are returned only for store failures before or during commit.
func (g *Gate) Handle(ctx context.Context, cfg *settings.Settings, ev Event) (Outcome, error) {
	out, err := g.handle(ctx, cfg, ev)
	attrs := []any{
		slog.String("type", "award"),
		slog.String("event_id", ev.ID),
		slog.String("user_name", ev.Author),
		slog.String("target_id", ev.Target.ID),
	}
	switch {
	case err != nil:
		slog.Error("Award failed", append(attrs, slog.Any("error", err))...)
	case out.Accepted():
		slog.Info("Award committed", append(attrs,
			slog.String("recipient", out.Recipient),
			slog.Int64("score", out.NewScore),
			slog.String("trigger", out.Trigger.String()),
		)...)
	default:
		slog.Debug("Award rejected", append(attrs, slog.String("reason", out.Reason.String()))...)
	}
	return out, err
}

func (g *Gate) handle(ctx context.Context, cfg *settings.Settings, ev Event) (Outcome, error) {
	if !ev.Target.Nested {
		return reject(RejectTopLevel, TriggerNone)
	}
	if cfg.IsBotOrAutomod(ev.Author) {
		return reject(RejectBotAuthor, TriggerNone)
	}

	trigger := DetectTrigger(cfg, ev.Body)
	switch trigger {
	case TriggerNone:
		return reject(RejectNoTrigger, trigger)
	case TriggerAnyone:
		if !cfg.AnyoneCanAward {
			return reject(RejectNotAllowed, trigger)
		}
	case TriggerPrivileged:
		ok, err := g.privileged(ctx, cfg, ev.Community, ev.Author)
		if err != nil {
			return Outcome{Trigger: trigger}, err
		}
		if !ok {
			return reject(RejectNotPrivileged, trigger)
		}
	}

	if settings.ContainsFold(cfg.CannotAward, ev.Author) {
		return reject(RejectAuthorDenied, trigger)
	}
	if ev.PostLabel != "" && settings.ContainsFold(cfg.IgnoredPostLabels, ev.PostLabel) {
		return reject(RejectIgnoredLabel, trigger)
	}

	recipient := ev.Target.Author
	if recipient == "" {
		return reject(RejectUnknownTarget, trigger)
	}
	if cfg.IsBotOrAutomod(recipient) {
		return reject(RejectBotTarget, trigger)
	}
	if strings.EqualFold(recipient, ev.Author) {
		if cfg.NotifyOnSelfAward {
			g.notifyAwarder(ctx, cfg, ev, cfg.Templates.SelfAward, notify.Values{Author: ev.Author, Recipient: recipient, Permalink: ev.Permalink})
		}
		return reject(RejectSelfAward, trigger)
	}
	if !identity.Alive(ctx, g.directory, recipient) {
		return reject(RejectUnknownTarget, trigger)
	}

	if settings.ContainsFold(cfg.CannotBeAwarded, recipient) {
		return reject(RejectTargetDenied, trigger)
	}

	markerKey := keys.AwardMarker(ev.Target.ID, ev.Author)
	if _, seen, err := g.store.GetMarker(ctx, markerKey); err != nil {
		return Outcome{Trigger: trigger}, fmt.Errorf("read award marker: %w", err)
	} else if seen {
		return reject(RejectDuplicate, trigger)
	}

	var err error
	current := currentLabel{known: true}
	current.text, current.exists, err = g.labels.UserLabel(ctx, ev.Community, recipient)
	if err != nil {
		slog.Warn("Failed to read user label",
			slog.String("type", "award"),
			slog.String("user_name", recipient),
			slog.Any("error", err),
		)
		current = currentLabel{}
	}
	eff, err := g.reconciler.Resolve(ctx, recipient, current.text, cfg.PrioritiseLabel)
	if err != nil {
		return Outcome{Trigger: trigger}, err
	}

	out := Outcome{
		Reason:    Accepted,
		Trigger:   trigger,
		Recipient: recipient,
		OldScore:  eff.Score,
		NewScore:  eff.Score + 1,
	}
	claimed, err := g.commit(ctx, cfg, ev, markerKey, out.NewScore)
	if err != nil {
		return out, err
	}
	if !claimed {
		return reject(RejectDuplicate, trigger)
	}

	g.afterCommit(ctx, cfg, ev, out, eff, current)
	return out, nil
}

// currentLabel is the recipient's label as read before the commit. known is
// false when the read failed, in which case the label is left alone.
type currentLabel struct {
	text   string
	exists bool
	known  bool
}

// privileged reports moderator or superuser status. Lookup failures deny.
func (g *Gate) privileged(ctx context.Context, cfg *settings.Settings, community, author string) (bool, error) {
	if g.moderators != nil {
		isMod, err := g.moderators.IsModerator(ctx, community, author)
		if err != nil {
			slog.Warn("Moderator lookup failed",
				slog.String("type", "award"),
				slog.String("user_name", author),
				slog.Any("error", err),
			)
		} else if isMod {
			return true, nil
		}
	}

	if settings.ContainsFold(cfg.Superusers, author) {
		return true, nil
	}
	if cfg.SuperuserThreshold <= 0 {
		return false, nil
	}

	label, _, err := g.labels.UserLabel(ctx, community, author)
	if err != nil {
		label = ""
	}
	eff, err := g.reconciler.Resolve(ctx, author, label, cfg.PrioritiseLabel)
	if err != nil {
		return false, err
	}
	return cfg.IsSuperuser(author, eff.Score), nil
}

// commit performs the writes that make up an award. It reports false without
// writing anything when another award already claimed the marker.
func (g *Gate) commit(ctx context.Context, cfg *settings.Settings, ev Event, markerKey string, newScore int64) (bool, error) {
	now := g.now()
	claimed, err := g.store.SetMarkerIfAbsent(ctx, markerKey, now.UTC().Format(time.RFC3339), DedupWindow)
	if err != nil {
		return false, fmt.Errorf("claim award marker: %w", err)
	}
	if !claimed {
		return false, nil
	}
	if err := g.board.Award(ctx, ev.Target.Author, newScore); err != nil {
		if delErr := g.store.DeleteMarkers(ctx, markerKey); delErr != nil {
			err = fmt.Errorf("%w (release award marker: %v)", err, delErr)
		}
		return false, err
	}
	if err := g.cleanup.Requeue(ctx, cfg, ev.Target.Author); err != nil {
		return true, err
	}
	if _, err := jobs.Now(ctx, g.jobs, keys.JobLeaderboardRebuild, now); err != nil {
		return true, fmt.Errorf("schedule leaderboard rebuild: %w", err)
	}
	return true, nil
}
