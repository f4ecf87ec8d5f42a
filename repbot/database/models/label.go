package models

import (
	"time"

	"github.com/uptrace/bun"
)

type LabelKind string

const (
	LabelKindUser LabelKind = "user"
	LabelKindPost LabelKind = "post"
)

// Label is a display label on a user or a post within one guild.
type Label struct {
	bun.BaseModel `bun:"table:labels,alias:lb"`

	Community string    `bun:"community,pk"`
	Kind      LabelKind `bun:"kind,pk"`
	Subject   string    `bun:"subject,pk"`
	Text      string    `bun:"text,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
