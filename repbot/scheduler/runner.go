// Package scheduler runs the durable job queue and the bot's background loops.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/repbot/config"
	"github.com/disgoorg/repbot/repbot/database/models"
	"github.com/disgoorg/repbot/repbot/logger"
)

// Queue is the part of the job store the runner drives.
type Queue interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
	Complete(ctx context.Context, id int64, next *time.Time) error
	Fail(ctx context.Context, id int64, cause error, retryAt *time.Time) error
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)
}

type RunnerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	JobTimeout   time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = config.DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = config.DefaultJobBatch
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = config.DefaultMaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = config.JobExecutionTimeout
	}
	return c
}

// Runner claims due jobs and dispatches them to their handlers. A job that
// fails is retried with exponential backoff until MaxAttempts; a recurring job
// is re-armed at its next cron time after every run.
type Runner struct {
	queue    Queue
	registry jobs.Registry
	cfg      RunnerConfig
	now      func() time.Time
}

func NewRunner(queue Queue, registry jobs.Registry, cfg RunnerConfig, now func() time.Time) *Runner {
	if now == nil {
		now = time.Now
	}
	return &Runner{queue: queue, registry: registry, cfg: cfg.withDefaults(), now: now}
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	cutoff := r.now().Add(-2 * r.cfg.JobTimeout)
	if n, err := r.queue.RecoverStale(ctx, cutoff); err != nil {
		logger.LogError("Failed to recover stale jobs", err)
	} else if n > 0 {
		logger.LogSystem("Recovered stale jobs", slog.Int("count", n))
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			logger.LogError("Job poll failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one batch of due jobs and returns how many were claimed.
func (r *Runner) Tick(ctx context.Context) (int, error) {
	due, err := r.queue.ClaimDue(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}
	for _, job := range due {
		if ctx.Err() != nil {
			return len(due), ctx.Err()
		}
		r.execute(ctx, job)
	}
	return len(due), nil
}

func (r *Runner) execute(ctx context.Context, job *models.ScheduledJob) {
	start := time.Now()
	err := r.dispatch(ctx, job)
	logger.LogJob(job.Name, job.Attempts, time.Since(start), err)

	if err == nil {
		if cerr := r.queue.Complete(ctx, job.ID, r.rearm(job)); cerr != nil {
			logger.LogError("Failed to complete job", cerr, slog.String("job", job.Name))
		}
		return
	}

	var retryAt *time.Time
	if job.Attempts < r.cfg.MaxAttempts {
		at := r.now().Add(Backoff(job.Attempts))
		retryAt = &at
	} else {
		// Out of retries; a recurring job still gets its next slot.
		retryAt = r.rearm(job)
	}
	if ferr := r.queue.Fail(ctx, job.ID, err, retryAt); ferr != nil {
		logger.LogError("Failed to record job failure", ferr, slog.String("job", job.Name))
	}
}

func (r *Runner) dispatch(ctx context.Context, job *models.ScheduledJob) (err error) {
	name, err := keys.ParseJobName(job.Name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", name, p)
		}
	}()
	return r.registry.Dispatch(ctx, name, job.Payload)
}

func (r *Runner) rearm(job *models.ScheduledJob) *time.Time {
	if job.Cron == "" {
		return nil
	}
	next, err := jobs.NextCron(job.Cron, r.now())
	if err != nil {
		logger.LogError("Invalid job cron", err, slog.String("job", job.Name))
		return nil
	}
	return &next
}

// Backoff is the delay before retry number attempt, doubling from
// RetryBaseDelay up to RetryMaxDelay.
func Backoff(attempt int) time.Duration {
	d := config.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= config.RetryMaxDelay {
			return config.RetryMaxDelay
		}
	}
	return d
}
