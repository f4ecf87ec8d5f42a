package database

import "github.com/disgoorg/repbot/repbot/database/models"

var tables = []any{
	(*models.Page)(nil),
	(*models.ScheduledJob)(nil),
	(*models.Label)(nil),
	(*models.Account)(nil),
	(*models.AwardRecord)(nil),
}

// TableNames lists the tables owned by repbot.
var TableNames = []string{
	"pages",
	"scheduled_jobs",
	"labels",
	"accounts",
	"award_records",
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_due ON scheduled_jobs(run_at) WHERE status = 'pending';",
	"CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_name ON scheduled_jobs(name, status);",
	"CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);",
	"CREATE INDEX IF NOT EXISTS idx_award_records_recipient ON award_records(recipient, created_at DESC);",
	"CREATE INDEX IF NOT EXISTS idx_pages_permission ON pages(permission);",
}
