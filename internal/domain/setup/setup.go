// Package setup runs the first-start and upgrade bootstrap.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/repbot/internal/domain/cleanup"
	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/internal/domain/settings"
)

// DailyRebuildCron rebuilds the leaderboard shortly after the UTC day rolls over.
const DailyRebuildCron = "5 0 * * *"

type Result struct {
	Ran      bool
	Previous string
}

type Bootstrapper struct {
	store   scores.MarkerStore
	cleanup *cleanup.Scheduler
	jobs    jobs.Scheduler
	now     func() time.Time
}

func New(store scores.MarkerStore, cleaner *cleanup.Scheduler, scheduler jobs.Scheduler, now func() time.Time) *Bootstrapper {
	if now == nil {
		now = time.Now
	}
	return &Bootstrapper{store: store, cleanup: cleaner, jobs: scheduler, now: now}
}

// Run installs recurring jobs and reconciles the cleanup log when the stored
// bootstrap marker is absent or names another version.
func (b *Bootstrapper) Run(ctx context.Context, cfg *settings.Settings, version string) (Result, error) {
	prev, ok, err := b.store.GetMarker(ctx, string(keys.BootstrapMarker))
	if err != nil {
		return Result{}, fmt.Errorf("read bootstrap marker: %w", err)
	}
	res := Result{Previous: prev}
	if ok && prev == version {
		return res, nil
	}

	now := b.now()
	if err := b.recurring(ctx, keys.JobCleanupSweep, cfg.Cleanup.Cron, now); err != nil {
		return res, err
	}
	if err := b.recurring(ctx, keys.JobLeaderboardRebuild, DailyRebuildCron, now); err != nil {
		return res, err
	}

	if _, err := b.cleanup.Reconcile(ctx, cfg); err != nil {
		return res, err
	}
	for _, name := range []keys.JobName{keys.JobLeaderboardRebuild, keys.JobRegexValidation} {
		if _, err := jobs.Now(ctx, b.jobs, name, now); err != nil {
			return res, fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	if err := b.store.SetMarker(ctx, string(keys.BootstrapMarker), version, 0); err != nil {
		return res, fmt.Errorf("write bootstrap marker: %w", err)
	}
	res.Ran = true

	slog.Info("Bootstrap completed",
		slog.String("type", "sys"),
		slog.String("version", version),
		slog.String("previous", prev),
	)
	return res, nil
}

// recurring replaces every pending copy of name with one cron job.
func (b *Bootstrapper) recurring(ctx context.Context, name keys.JobName, expr string, now time.Time) error {
	if _, err := jobs.CancelAll(ctx, b.jobs, name); err != nil {
		return err
	}
	first, err := jobs.NextCron(expr, now)
	if err != nil {
		return err
	}
	if _, err := b.jobs.Schedule(ctx, jobs.Request{Name: name, RunAt: first, Cron: expr}); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}
