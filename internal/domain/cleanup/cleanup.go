// Package cleanup keeps the priority log of pending liveness checks and prunes
// scores of accounts that no longer exist.
//
// A sweep is an explicit state machine: Idle -> Sweeping -> Deciding -> Idle.
// Sweeping checks at most BatchSize due users. Deciding picks exactly one
// continuation: drain a backlog now, queue a single ad-hoc sweep ahead of the
// recurring one, or wait for the recurring trigger.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/disgoorg/repbot/internal/domain/identity"
	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/internal/domain/settings"
)

const (
	// BatchSize caps identity lookups per sweep.
	BatchSize = 50
	// AdhocLead is both the minimum gap before the recurring sweep that
	// warrants an ad-hoc run and the delay added to the due time.
	AdhocLead = 5 * time.Minute
	// MaxJitter bounds the spread applied on bulk (re)registration.
	MaxJitter = 60 * time.Minute
)

type State int

const (
	StateIdle State = iota
	StateSweeping
	StateDeciding
)

func (s State) String() string {
	switch s {
	case StateSweeping:
		return "sweeping"
	case StateDeciding:
		return "deciding"
	default:
		return "idle"
	}
}

// Decision is the continuation chosen after a sweep.
type Decision int

const (
	DecisionWait Decision = iota
	DecisionDrain
	DecisionAdhoc
)

func (d Decision) String() string {
	switch d {
	case DecisionDrain:
		return "drain"
	case DecisionAdhoc:
		return "ad-hoc"
	default:
		return "wait"
	}
}

type SweepResult struct {
	Checked  int
	Alive    int
	Removed  []string
	Dropped  int
	Backlog  bool
	Decision Decision
	// RunAt is set for DecisionDrain and DecisionAdhoc.
	RunAt time.Time
}

type ReconcileResult struct {
	Added       int
	Removed     int
	Rescheduled int
}

type Scheduler struct {
	store     scores.Backend
	board     *scores.Board
	directory identity.Directory
	jobs      jobs.Scheduler
	now       func() time.Time
	jitter    func() time.Duration
}

// New builds a cleanup scheduler. A nil clock defaults to time.Now.
func New(store scores.Backend, directory identity.Directory, scheduler jobs.Scheduler, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:     store,
		board:     scores.NewBoard(store, now),
		directory: directory,
		jobs:      scheduler,
		now:       now,
		jitter: func() time.Duration {
			return time.Duration(rand.IntN(int(MaxJitter/time.Minute))) * time.Minute
		},
	}
}

// WithJitter replaces the jitter source, for deterministic tests.
func (s *Scheduler) WithJitter(jitter func() time.Duration) *Scheduler {
	s.jitter = jitter
	return s
}

func logKey() string {
	return string(keys.CleanupLog)
}

// Requeue schedules the next liveness check of username one interval from now.
func (s *Scheduler) Requeue(ctx context.Context, cfg *settings.Settings, username string) error {
	next := s.now().Add(cfg.Cleanup.Interval())
	if err := s.store.Set(ctx, logKey(), scores.Member{Name: username, Score: next.Unix()}); err != nil {
		return fmt.Errorf("requeue cleanup for %s: %w", username, err)
	}
	return nil
}

// Forget drops username from the log.
func (s *Scheduler) Forget(ctx context.Context, username string) error {
	if err := s.store.Remove(ctx, logKey(), username); err != nil {
		return fmt.Errorf("drop cleanup entry for %s: %w", username, err)
	}
	return nil
}

// Sweep runs one pass of the state machine.
func (s *Scheduler) Sweep(ctx context.Context, cfg *settings.Settings) (SweepResult, error) {
	var res SweepResult
	state := StateSweeping

	for {
		switch state {
		case StateSweeping:
			if err := s.sweep(ctx, cfg, &res); err != nil {
				return res, err
			}
			state = StateDeciding

		case StateDeciding:
			decision, runAt, err := s.decide(ctx, cfg, res.Backlog)
			if err != nil {
				return res, err
			}
			res.Decision, res.RunAt = decision, runAt
			state = StateIdle

		case StateIdle:
			slog.Info("Cleanup sweep finished",
				slog.String("type", "job"),
				slog.Int("checked", res.Checked),
				slog.Int("alive", res.Alive),
				slog.Int("removed", len(res.Removed)),
				slog.Int("dropped", res.Dropped),
				slog.String("decision", res.Decision.String()),
			)
			return res, nil
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, cfg *settings.Settings, res *SweepResult) error {
	now := s.now()
	due, err := s.store.RangeByScore(ctx, logKey(), scores.RangeOptions{
		Min:   scores.MinScore,
		Max:   now.Unix(),
		Limit: BatchSize + 1,
	})
	if err != nil {
		return fmt.Errorf("read due cleanup entries: %w", err)
	}
	if len(due) > BatchSize {
		res.Backlog = true
		due = due[:BatchSize]
	}

	next := now.Add(cfg.Cleanup.Interval()).Unix()
	for _, entry := range due {
		res.Checked++

		_, scored, err := s.board.Score(ctx, entry.Name)
		if err != nil {
			return err
		}
		if !scored {
			if err := s.Forget(ctx, entry.Name); err != nil {
				return err
			}
			res.Dropped++
			continue
		}

		if identity.Alive(ctx, s.directory, entry.Name) {
			if err := s.store.Set(ctx, logKey(), scores.Member{Name: entry.Name, Score: next}); err != nil {
				return fmt.Errorf("reschedule cleanup for %s: %w", entry.Name, err)
			}
			res.Alive++
			continue
		}

		if err := s.board.RemoveEverywhere(ctx, entry.Name); err != nil {
			return err
		}
		if err := s.Forget(ctx, entry.Name); err != nil {
			return err
		}
		res.Removed = append(res.Removed, entry.Name)
		slog.Info("Pruned scores of missing account",
			slog.String("type", "job"),
			slog.String("user_name", entry.Name),
		)
	}

	if len(res.Removed) > 0 {
		if _, err := jobs.Now(ctx, s.jobs, keys.JobLeaderboardRebuild, now); err != nil {
			return fmt.Errorf("schedule leaderboard rebuild: %w", err)
		}
	}
	return nil
}

// Decide computes the continuation for the current log without sweeping.
func (s *Scheduler) Decide(ctx context.Context, cfg *settings.Settings) (Decision, time.Time, error) {
	return s.decide(ctx, cfg, false)
}

func (s *Scheduler) decide(ctx context.Context, cfg *settings.Settings, backlog bool) (Decision, time.Time, error) {
	now := s.now()
	if backlog {
		if _, err := jobs.Now(ctx, s.jobs, keys.JobCleanupSweep, now); err != nil {
			return DecisionWait, time.Time{}, fmt.Errorf("schedule backlog sweep: %w", err)
		}
		return DecisionDrain, now, nil
	}

	earliest, err := s.store.RangeByScore(ctx, logKey(), scores.RangeOptions{
		Min:   scores.MinScore,
		Max:   scores.MaxScore,
		Limit: 1,
	})
	if err != nil {
		return DecisionWait, time.Time{}, fmt.Errorf("read earliest cleanup entry: %w", err)
	}
	if len(earliest) == 0 {
		return DecisionWait, time.Time{}, nil
	}

	recurring, err := jobs.NextCron(cfg.Cleanup.Cron, now)
	if err != nil {
		return DecisionWait, time.Time{}, err
	}
	due := time.Unix(earliest[0].Score, 0).UTC()
	if !due.Before(recurring.Add(-AdhocLead)) {
		return DecisionWait, time.Time{}, nil
	}

	if _, err := jobs.CancelAll(ctx, s.jobs, keys.JobAdhocCleanupSweep); err != nil {
		return DecisionWait, time.Time{}, err
	}
	runAt := due.Add(AdhocLead)
	if runAt.Before(now) {
		runAt = now
	}
	if _, err := s.jobs.Schedule(ctx, jobs.Request{Name: keys.JobAdhocCleanupSweep, RunAt: runAt}); err != nil {
		return DecisionWait, time.Time{}, fmt.Errorf("schedule ad-hoc sweep: %w", err)
	}
	return DecisionAdhoc, runAt, nil
}

// Reconcile aligns log membership with the all-time collection and applies a
// changed check interval to every entry exactly once.
func (s *Scheduler) Reconcile(ctx context.Context, cfg *settings.Settings) (ReconcileResult, error) {
	var res ReconcileResult
	now := s.now()
	interval := cfg.Cleanup.Interval()

	scored, err := s.board.AllTimeMembers(ctx)
	if err != nil {
		return res, err
	}
	logged, err := s.store.RangeByScore(ctx, logKey(), scores.All())
	if err != nil {
		return res, fmt.Errorf("read cleanup log: %w", err)
	}

	version := strconv.Itoa(cfg.Cleanup.IntervalDays)
	marker, ok, err := s.store.GetMarker(ctx, string(keys.CleanupIntervalMarker))
	if err != nil {
		return res, fmt.Errorf("read cleanup interval marker: %w", err)
	}
	intervalChanged := !ok || marker != version

	inLog := make(map[string]bool, len(logged))
	for _, m := range logged {
		inLog[m.Name] = true
	}
	hasScore := make(map[string]bool, len(scored))
	for _, m := range scored {
		hasScore[m.Name] = true
	}

	var upserts []scores.Member
	for _, m := range scored {
		if !inLog[m.Name] {
			upserts = append(upserts, scores.Member{Name: m.Name, Score: now.Add(interval + s.jitter()).Unix()})
			res.Added++
		}
	}

	var stale []string
	for _, m := range logged {
		if !hasScore[m.Name] {
			stale = append(stale, m.Name)
			continue
		}
		if intervalChanged {
			upserts = append(upserts, scores.Member{Name: m.Name, Score: now.Add(interval + s.jitter()).Unix()})
			res.Rescheduled++
		}
	}

	if len(stale) > 0 {
		if err := s.store.Remove(ctx, logKey(), stale...); err != nil {
			return res, fmt.Errorf("remove stale cleanup entries: %w", err)
		}
		res.Removed = len(stale)
	}
	if err := s.store.Set(ctx, logKey(), upserts...); err != nil {
		return res, fmt.Errorf("write cleanup entries: %w", err)
	}
	if intervalChanged {
		if err := s.store.SetMarker(ctx, string(keys.CleanupIntervalMarker), version, 0); err != nil {
			return res, fmt.Errorf("write cleanup interval marker: %w", err)
		}
	}

	slog.Info("Cleanup log reconciled",
		slog.String("type", "job"),
		slog.Int("added", res.Added),
		slog.Int("removed", res.Removed),
		slog.Int("rescheduled", res.Rescheduled),
	)
	return res, nil
}
