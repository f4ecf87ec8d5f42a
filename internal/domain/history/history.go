// Package history keeps an append-only log of committed awards.
package history

import (
	"context"
	"time"
)

// RecentLimit is the number of records shown on a per-user page.
const RecentLimit = 10

type Record struct {
	Awarder    string
	Recipient  string
	Community  string
	PostID     string
	TargetID   string
	Permalink  string
	ScoreAfter int64
	CreatedAt  time.Time
}

type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns the newest records received by username, newest first.
	Recent(ctx context.Context, username string, limit int) ([]Record, error)
}
