package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/testkit"
	"github.com/disgoorg/repbot/repbot/config"
	"github.com/disgoorg/repbot/repbot/database/models"
)

type queue struct {
	mu   sync.Mutex
	jobs map[int64]*models.ScheduledJob
}

func newQueue(list ...*models.ScheduledJob) *queue {
	q := &queue{jobs: make(map[int64]*models.ScheduledJob)}
	for _, j := range list {
		j.Status = models.JobStatusPending
		q.jobs[j.ID] = j
	}
	return q
}

func (q *queue) ClaimDue(_ context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*models.ScheduledJob
	for _, j := range q.jobs {
		if len(due) == limit {
			break
		}
		if j.Status == models.JobStatusPending && !j.RunAt.After(now) {
			j.Status = models.JobStatusRunning
			j.Attempts++
			cp := *j
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (q *queue) Complete(_ context.Context, id int64, next *time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs[id]
	if next != nil {
		j.Status, j.RunAt, j.Attempts = models.JobStatusPending, *next, 0
		return nil
	}
	j.Status = models.JobStatusDone
	return nil
}

func (q *queue) Fail(_ context.Context, id int64, cause error, retryAt *time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs[id]
	j.LastError = cause.Error()
	if retryAt != nil {
		j.Status, j.RunAt = models.JobStatusPending, *retryAt
		return nil
	}
	j.Status = models.JobStatusFailed
	return nil
}

func (q *queue) RecoverStale(context.Context, time.Time) (int, error) { return 0, nil }

func (q *queue) get(id int64) models.ScheduledJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.jobs[id]
}

func TestRunner_CompletesOneShotJob(t *testing.T) {
	clock := testkit.NewClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	q := newQueue(&models.ScheduledJob{ID: 1, Name: string(keys.JobLeaderboardRebuild), RunAt: clock.Now()})

	calls := 0
	r := NewRunner(q, jobs.Registry{
		keys.JobLeaderboardRebuild: func(context.Context, map[string]string) error {
			calls++
			return nil
		},
	}, RunnerConfig{}, clock.Now)

	n, err := r.Tick(context.Background())
	if err != nil || n != 1 || calls != 1 {
		t.Fatalf("Tick() = %d, %v with %d calls", n, err, calls)
	}
	if got := q.get(1).Status; got != models.JobStatusDone {
		t.Fatalf("status = %s, want done", got)
	}

	if n, _ := r.Tick(context.Background()); n != 0 {
		t.Fatalf("completed job claimed again")
	}
}

func TestRunner_RearmsCronJob(t *testing.T) {
	clock := testkit.NewClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	q := newQueue(&models.ScheduledJob{ID: 1, Name: string(keys.JobCleanupSweep), RunAt: clock.Now(), Cron: "0 */6 * * *"})

	r := NewRunner(q, jobs.Registry{
		keys.JobCleanupSweep: func(context.Context, map[string]string) error { return nil },
	}, RunnerConfig{}, clock.Now)

	if _, err := r.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := q.get(1)
	want := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)
	if got.Status != models.JobStatusPending || !got.RunAt.Equal(want) || got.Attempts != 0 {
		t.Fatalf("job = %+v, want pending at %v", got, want)
	}
}

func TestRunner_RetriesWithBackoffThenFails(t *testing.T) {
	clock := testkit.NewClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	q := newQueue(&models.ScheduledJob{ID: 7, Name: string(keys.JobRegexValidation), RunAt: clock.Now()})

	boom := errors.New("boom")
	r := NewRunner(q, jobs.Registry{
		keys.JobRegexValidation: func(context.Context, map[string]string) error { return boom },
	}, RunnerConfig{MaxAttempts: 2}, clock.Now)

	_, _ = r.Tick(context.Background())
	got := q.get(7)
	if got.Status != models.JobStatusPending || !got.RunAt.Equal(clock.Now().Add(config.RetryBaseDelay)) {
		t.Fatalf("after first failure job = %+v", got)
	}

	clock.Advance(config.RetryBaseDelay)
	_, _ = r.Tick(context.Background())
	got = q.get(7)
	if got.Status != models.JobStatusFailed || got.LastError != "boom" {
		t.Fatalf("after last attempt job = %+v, want failed", got)
	}
}

func TestRunner_UnknownJobFails(t *testing.T) {
	clock := testkit.NewClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	q := newQueue(&models.ScheduledJob{ID: 1, Name: "reset-daily", RunAt: clock.Now()})
	r := NewRunner(q, jobs.Registry{}, RunnerConfig{MaxAttempts: 1}, clock.Now)

	_, _ = r.Tick(context.Background())
	if got := q.get(1).Status; got != models.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
}

func TestRunner_RecoversPanic(t *testing.T) {
	clock := testkit.NewClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	q := newQueue(&models.ScheduledJob{ID: 1, Name: string(keys.JobLeaderboardRebuild), RunAt: clock.Now()})
	r := NewRunner(q, jobs.Registry{
		keys.JobLeaderboardRebuild: func(context.Context, map[string]string) error { panic("nil map") },
	}, RunnerConfig{MaxAttempts: 1}, clock.Now)

	_, _ = r.Tick(context.Background())
	if got := q.get(1); got.Status != models.JobStatusFailed || got.LastError == "" {
		t.Fatalf("job = %+v, want failed with error", got)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, config.RetryBaseDelay},
		{2, 2 * config.RetryBaseDelay},
		{3, 4 * config.RetryBaseDelay},
		{20, config.RetryMaxDelay},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestProcessManager_Shutdown(t *testing.T) {
	pm := NewProcessManager()
	stopped := make(chan struct{})
	pm.Start("loop", "test loop", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})
	if pm.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", pm.Count())
	}
	if err := pm.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case <-stopped:
	default:
		t.Fatal("process was not cancelled")
	}
}
