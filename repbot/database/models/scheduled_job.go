package models

import (
	"time"

	"github.com/uptrace/bun"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

type ScheduledJob struct {
	bun.BaseModel `bun:"table:scheduled_jobs,alias:sj"`

	ID        int64             `bun:"id,pk,autoincrement"`
	Name      string            `bun:"name,notnull"`
	RunAt     time.Time         `bun:"run_at,notnull"`
	Cron      string            `bun:"cron"`
	Payload   map[string]string `bun:"payload,type:jsonb"`
	Status    JobStatus         `bun:"status,notnull,default:'pending'"`
	Attempts  int               `bun:"attempts,notnull,default:0"`
	LastError string            `bun:"last_error"`
	CreatedAt time.Time         `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time         `bun:"updated_at,notnull,default:current_timestamp"`
}
