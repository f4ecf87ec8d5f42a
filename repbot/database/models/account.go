package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Account maps a Discord username onto its user id. Rows are refreshed every
// time the bot sees the user.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	Username  string    `bun:"username,pk"`
	UserID    string    `bun:"user_id,notnull"`
	Deleted   bool      `bun:"deleted,notnull,default:false"`
	SeenAt    time.Time `bun:"seen_at,notnull,default:current_timestamp"`
	CheckedAt time.Time `bun:"checked_at"`
}
