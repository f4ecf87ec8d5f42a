package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/uptrace/bun"

	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/repbot/database/models"
)

// JobRepository stores scheduled jobs. It is the durable jobs.Scheduler and
// the queue the runner claims work from.
type JobRepository interface {
	jobs.Scheduler
	// ClaimDue marks up to limit due jobs as running and returns them. Rows
	// locked by another runner are skipped.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
	// Complete finishes a run. A non-nil next re-arms the job for that time.
	Complete(ctx context.Context, id int64, next *time.Time) error
	// Fail records a failed run. A non-nil retryAt puts the job back in the queue.
	Fail(ctx context.Context, id int64, cause error, retryAt *time.Time) error
	// RecoverStale returns running jobs untouched since cutoff to the queue.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)
}

type jobRepository struct {
	*BaseRepository
}

func NewJobRepository(db *bun.DB) JobRepository {
	return &jobRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *jobRepository) Schedule(ctx context.Context, req jobs.Request) (string, error) {
	now := time.Now()
	job := &models.ScheduledJob{
		Name:      string(req.Name),
		RunAt:     req.RunAt.UTC(),
		Cron:      req.Cron,
		Payload:   req.Payload,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.ExecWithTimeout(ctx, "schedule", "scheduled_job", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewInsert().Model(job).Returning("id").Exec(ctx)
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(job.ID, 10), nil
}

func (r *jobRepository) ListPending(ctx context.Context) ([]jobs.Pending, error) {
	var rows []*models.ScheduledJob
	err := r.SelectWithTimeout(ctx, "list_pending", "scheduled_job", func(ctx context.Context) error {
		return r.db.NewSelect().
			Model(&rows).
			Where("status = ?", models.JobStatusPending).
			Order("run_at ASC", "id ASC").
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}

	pending := make([]jobs.Pending, 0, len(rows))
	for _, row := range rows {
		name, err := keys.ParseJobName(row.Name)
		if err != nil {
			continue
		}
		pending = append(pending, jobs.Pending{
			ID:    strconv.FormatInt(row.ID, 10),
			Name:  name,
			RunAt: row.RunAt,
			Cron:  row.Cron,
		})
	}
	return pending, nil
}

func (r *jobRepository) Cancel(ctx context.Context, id string) error {
	jobID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", id, err)
	}
	_, err = r.ExecWithTimeout(ctx, "cancel", "scheduled_job", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewUpdate().
			Model((*models.ScheduledJob)(nil)).
			Set("status = ?", models.JobStatusCancelled).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", jobID).
			Where("status = ?", models.JobStatusPending).
			Exec(ctx)
	})
	return err
}

func (r *jobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	var claimed []*models.ScheduledJob
	err := r.Transaction(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().
			Model(&claimed).
			Where("status = ?", models.JobStatusPending).
			Where("run_at <= ?", now.UTC()).
			Order("run_at ASC", "id ASC").
			Limit(limit).
			For("UPDATE SKIP LOCKED").
			Scan(ctx); err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]int64, len(claimed))
		for i, job := range claimed {
			ids[i] = job.ID
			job.Status = models.JobStatusRunning
			job.Attempts++
		}
		_, err := tx.NewUpdate().
			Model((*models.ScheduledJob)(nil)).
			Set("status = ?", models.JobStatusRunning).
			Set("attempts = attempts + 1").
			Set("updated_at = ?", time.Now()).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, r.HandleError("claim_due", "scheduled_job", err)
	}
	return claimed, nil
}

func (r *jobRepository) Complete(ctx context.Context, id int64, next *time.Time) error {
	_, err := r.ExecWithTimeout(ctx, "complete", "scheduled_job", func(ctx context.Context) (sql.Result, error) {
		q := r.db.NewUpdate().
			Model((*models.ScheduledJob)(nil)).
			Set("last_error = ''").
			Set("updated_at = ?", time.Now()).
			Where("id = ?", id)
		if next != nil {
			q = q.Set("status = ?", models.JobStatusPending).
				Set("run_at = ?", next.UTC()).
				Set("attempts = 0")
		} else {
			q = q.Set("status = ?", models.JobStatusDone)
		}
		return q.Exec(ctx)
	})
	return err
}

func (r *jobRepository) Fail(ctx context.Context, id int64, cause error, retryAt *time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.ExecWithTimeout(ctx, "fail", "scheduled_job", func(ctx context.Context) (sql.Result, error) {
		q := r.db.NewUpdate().
			Model((*models.ScheduledJob)(nil)).
			Set("last_error = ?", msg).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", id)
		if retryAt != nil {
			q = q.Set("status = ?", models.JobStatusPending).Set("run_at = ?", retryAt.UTC())
		} else {
			q = q.Set("status = ?", models.JobStatusFailed)
		}
		return q.Exec(ctx)
	})
	return err
}

func (r *jobRepository) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.ExecWithTimeout(ctx, "recover_stale", "scheduled_job", func(ctx context.Context) (sql.Result, error) {
		return r.db.NewUpdate().
			Model((*models.ScheduledJob)(nil)).
			Set("status = ?", models.JobStatusPending).
			Set("updated_at = ?", time.Now()).
			Where("status = ?", models.JobStatusRunning).
			Where("updated_at < ?", cutoff).
			Exec(ctx)
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
