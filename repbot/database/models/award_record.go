package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AwardRecord struct {
	bun.BaseModel `bun:"table:award_records,alias:ar"`

	ID         int64     `bun:"id,pk,autoincrement"`
	Awarder    string    `bun:"awarder,notnull"`
	Recipient  string    `bun:"recipient,notnull"`
	Community  string    `bun:"community,notnull"`
	PostID     string    `bun:"post_id,notnull"`
	TargetID   string    `bun:"target_id,notnull"`
	Permalink  string    `bun:"permalink"`
	ScoreAfter int64     `bun:"score_after,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
