// Package jobs is the scheduler port the core uses to queue maintenance work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/disgoorg/repbot/internal/domain/keys"
)

// Request asks for one run at RunAt, or a recurring run when Cron is set.
type Request struct {
	Name    keys.JobName
	RunAt   time.Time
	Cron    string
	Payload map[string]string
}

// Pending is a job that has not run yet.
type Pending struct {
	ID    string
	Name  keys.JobName
	RunAt time.Time
	Cron  string
}

type Scheduler interface {
	Schedule(ctx context.Context, req Request) (string, error)
	ListPending(ctx context.Context) ([]Pending, error)
	Cancel(ctx context.Context, id string) error
}

// Handler runs one job. Errors are retried by the runner.
type Handler func(ctx context.Context, payload map[string]string) error

// Registry maps job names onto handlers.
type Registry map[keys.JobName]Handler

// ErrNoHandler is returned when a stored job has no registered handler.
var ErrNoHandler = errors.New("no handler registered for job")

func (r Registry) Dispatch(ctx context.Context, name keys.JobName, payload map[string]string) error {
	h, ok := r[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, name)
	}
	return h(ctx, payload)
}

// Now queues an immediate run of name.
func Now(ctx context.Context, s Scheduler, name keys.JobName, now time.Time) (string, error) {
	return s.Schedule(ctx, Request{Name: name, RunAt: now})
}

// NextCron returns the first activation of a standard five-field expression
// strictly after now, in UTC.
func NextCron(expr string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched.Next(now.UTC()), nil
}

// CancelAll cancels every pending job with the given name.
func CancelAll(ctx context.Context, s Scheduler, name keys.JobName) (int, error) {
	pending, err := s.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	n := 0
	for _, p := range pending {
		if p.Name != name {
			continue
		}
		if err := s.Cancel(ctx, p.ID); err != nil {
			return n, fmt.Errorf("cancel job %s: %w", p.ID, err)
		}
		n++
	}
	return n, nil
}

// NextRun returns the earliest pending run of name.
func NextRun(ctx context.Context, s Scheduler, name keys.JobName) (time.Time, bool, error) {
	pending, err := s.ListPending(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("list pending jobs: %w", err)
	}
	var next time.Time
	found := false
	for _, p := range pending {
		if p.Name != name {
			continue
		}
		if !found || p.RunAt.Before(next) {
			next, found = p.RunAt, true
		}
	}
	return next, found, nil
}
