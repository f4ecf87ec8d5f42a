package cleanup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/disgoorg/repbot/internal/domain/identity/mock"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/internal/domain/settings"
	"github.com/disgoorg/repbot/internal/gateways/memstore"
	"github.com/disgoorg/repbot/internal/testkit"
)

// 05:00 UTC; the default cron "0 */6 * * *" next fires at 06:00.
var start = time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)

type fixture struct {
	clock *testkit.Clock
	store *memstore.Store
	dir   *testkit.Directory
	jobs  *testkit.Scheduler
	cfg   *settings.Settings
	s     *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := settings.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	f := &fixture{
		clock: testkit.NewClock(start),
		dir:   testkit.NewDirectory(),
		jobs:  testkit.NewScheduler(),
		cfg:   &cfg,
	}
	f.store = memstore.New(f.clock.Now)
	f.s = New(f.store, f.dir, f.jobs, f.clock.Now).WithJitter(func() time.Duration { return 0 })
	return f
}

func (f *fixture) score(name string, score int64) {
	ctx := context.Background()
	for _, tf := range scores.Timeframes {
		_ = f.store.Set(ctx, tf.Key(), scores.Member{Name: name, Score: score})
	}
}

func (f *fixture) due(name string, at time.Time) {
	_ = f.store.Set(context.Background(), string(keys.CleanupLog), scores.Member{Name: name, Score: at.Unix()})
}

func (f *fixture) logged(name string) (time.Time, bool) {
	v, ok, _ := f.store.Score(context.Background(), string(keys.CleanupLog), name)
	return time.Unix(v, 0).UTC(), ok
}

func TestScheduler_Requeue(t *testing.T) {
	f := newFixture(t)
	if err := f.s.Requeue(context.Background(), f.cfg, "alice"); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	got, ok := f.logged("alice")
	if want := start.Add(28 * 24 * time.Hour); !ok || !got.Equal(want) {
		t.Fatalf("next check = %v, %v; want %v", got, ok, want)
	}
}

func TestScheduler_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.score("alive", 4)
	f.score("gone", 9)
	f.dir = testkit.NewDirectory("alive")
	f.s = New(f.store, f.dir, f.jobs, f.clock.Now).WithJitter(func() time.Duration { return 0 })

	f.due("alive", start.Add(-time.Hour))
	f.due("gone", start.Add(-time.Hour))
	f.due("unscored", start.Add(-time.Hour))
	f.due("later", start.Add(48*time.Hour))
	f.score("later", 1)

	res, err := f.s.Sweep(ctx, f.cfg)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Checked != 3 || res.Alive != 1 || res.Dropped != 1 || len(res.Removed) != 1 || res.Removed[0] != "gone" {
		t.Fatalf("Sweep() = %+v", res)
	}

	for _, tf := range scores.Timeframes {
		if _, ok, _ := f.store.Score(ctx, tf.Key(), "gone"); ok {
			t.Errorf("gone still scored in %s", tf)
		}
	}
	if _, ok := f.logged("gone"); ok {
		t.Error("gone still in cleanup log")
	}
	if _, ok := f.logged("unscored"); ok {
		t.Error("unscored still in cleanup log")
	}
	if got, _ := f.logged("alive"); !got.Equal(start.Add(28 * 24 * time.Hour)) {
		t.Errorf("alive rescheduled to %v", got)
	}
	if n := f.jobs.Count(keys.JobLeaderboardRebuild); n != 1 {
		t.Errorf("rebuild jobs = %d, want 1", n)
	}
	if res.Decision != DecisionWait {
		t.Errorf("Decision = %v, want wait", res.Decision)
	}
}

func TestScheduler_SweepWithoutRemovalsSchedulesNoRebuild(t *testing.T) {
	f := newFixture(t)
	f.score("alive", 1)
	f.dir = testkit.NewDirectory("alive")
	f.s = New(f.store, f.dir, f.jobs, f.clock.Now)
	f.due("alive", start)

	if _, err := f.s.Sweep(context.Background(), f.cfg); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n := f.jobs.Count(keys.JobLeaderboardRebuild); n != 0 {
		t.Fatalf("rebuild jobs = %d, want 0", n)
	}
}

func TestScheduler_SweepLookupFailureCountsAsGone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	dir := mock.NewMockDirectory(gomock.NewController(t))
	dir.EXPECT().
		Exists(gomock.Any(), "flaky").
		Return(false, errors.New("rate limited"))
	f.s = New(f.store, dir, f.jobs, f.clock.Now)

	f.score("flaky", 3)
	f.due("flaky", start)

	res, err := f.s.Sweep(ctx, f.cfg)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(res.Removed) != 1 {
		t.Fatalf("Removed = %v, want [flaky]", res.Removed)
	}
}

func TestScheduler_SweepBacklogDrains(t *testing.T) {
	f := newFixture(t)
	names := make([]string, 0, BatchSize+5)
	for i := 0; i < BatchSize+5; i++ {
		name := fmt.Sprintf("user%02d", i)
		names = append(names, name)
		f.score(name, 1)
		f.due(name, start.Add(-time.Duration(i)*time.Minute))
	}
	f.dir = testkit.NewDirectory(names...)
	f.s = New(f.store, f.dir, f.jobs, f.clock.Now)

	res, err := f.s.Sweep(context.Background(), f.cfg)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Checked != BatchSize {
		t.Errorf("Checked = %d, want %d", res.Checked, BatchSize)
	}
	if !res.Backlog || res.Decision != DecisionDrain {
		t.Errorf("Sweep() = %+v, want drain", res)
	}
	if n := f.jobs.Count(keys.JobCleanupSweep); n != 1 {
		t.Errorf("cleanup-sweep jobs = %d, want 1", n)
	}
}

func TestScheduler_Decide(t *testing.T) {
	recurring := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		earliest  time.Time
		want      Decision
		wantRunAt time.Time
	}{
		{
			name:      "recurring sweep twenty minutes after due",
			earliest:  recurring.Add(-20 * time.Minute),
			want:      DecisionAdhoc,
			wantRunAt: recurring.Add(-15 * time.Minute),
		},
		{
			name:     "recurring sweep three minutes after due",
			earliest: recurring.Add(-3 * time.Minute),
			want:     DecisionWait,
		},
		{
			name:     "exactly five minutes before",
			earliest: recurring.Add(-5 * time.Minute),
			want:     DecisionWait,
		},
		{
			name:      "overdue entry clamps to now",
			earliest:  start.Add(-time.Hour),
			want:      DecisionAdhoc,
			wantRunAt: start,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.due("alice", tt.earliest)

			got, runAt, err := f.s.Decide(context.Background(), f.cfg)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Decide() = %v, want %v", got, tt.want)
			}
			pending := f.jobs.PendingNamed(keys.JobAdhocCleanupSweep)
			if tt.want != DecisionAdhoc {
				if len(pending) != 0 {
					t.Fatalf("pending ad-hoc jobs = %v, want none", pending)
				}
				return
			}
			if !runAt.Equal(tt.wantRunAt) || len(pending) != 1 || !pending[0].RunAt.Equal(tt.wantRunAt) {
				t.Fatalf("ad-hoc run at %v (pending %v), want %v", runAt, pending, tt.wantRunAt)
			}
		})
	}
}

func TestScheduler_DecideKeepsOneAdhocJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.due("alice", start.Add(30*time.Minute))

	for i := 0; i < 3; i++ {
		if _, _, err := f.s.Decide(ctx, f.cfg); err != nil {
			t.Fatalf("Decide() error = %v", err)
		}
	}
	if pending := f.jobs.PendingNamed(keys.JobAdhocCleanupSweep); len(pending) != 1 {
		t.Fatalf("pending ad-hoc jobs = %d, want 1", len(pending))
	}
	if len(f.jobs.Cancelled) != 2 {
		t.Fatalf("cancelled = %d, want 2", len(f.jobs.Cancelled))
	}
}

func TestScheduler_DecideEmptyLogWaits(t *testing.T) {
	f := newFixture(t)
	got, _, err := f.s.Decide(context.Background(), f.cfg)
	if err != nil || got != DecisionWait {
		t.Fatalf("Decide() = %v, %v; want wait", got, err)
	}
}

func TestScheduler_Reconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.s.WithJitter(func() time.Duration { return 7 * time.Minute })

	f.score("new", 2)
	f.score("kept", 5)
	f.due("kept", start.Add(time.Hour))
	f.due("stale", start.Add(time.Hour))

	res, err := f.s.Reconcile(ctx, f.cfg)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	// No interval marker yet, so existing entries are rescheduled once.
	if res != (ReconcileResult{Added: 1, Removed: 1, Rescheduled: 1}) {
		t.Fatalf("Reconcile() = %+v", res)
	}
	want := start.Add(28*24*time.Hour + 7*time.Minute)
	for _, name := range []string{"new", "kept"} {
		if got, ok := f.logged(name); !ok || !got.Equal(want) {
			t.Errorf("%s next check = %v, %v; want %v", name, got, ok, want)
		}
	}
	if _, ok := f.logged("stale"); ok {
		t.Error("stale should be removed")
	}

	res, _ = f.s.Reconcile(ctx, f.cfg)
	if res != (ReconcileResult{}) {
		t.Fatalf("second Reconcile() = %+v, want no changes", res)
	}

	f.cfg.Cleanup.IntervalDays = 14
	res, _ = f.s.Reconcile(ctx, f.cfg)
	if res.Rescheduled != 2 {
		t.Fatalf("Reconcile() after interval change = %+v, want 2 rescheduled", res)
	}
	if got, _ := f.logged("kept"); !got.Equal(start.Add(14*24*time.Hour + 7*time.Minute)) {
		t.Errorf("kept next check = %v", got)
	}

	res, _ = f.s.Reconcile(ctx, f.cfg)
	if res.Rescheduled != 0 {
		t.Fatalf("interval change applied twice: %+v", res)
	}
}
