package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Page is one node of the hierarchical content store.
type Page struct {
	bun.BaseModel `bun:"table:pages,alias:pg"`

	Path       string    `bun:"path,pk"`
	Content    string    `bun:"content,notnull,default:''"`
	Permission int       `bun:"permission,notnull,default:0"`
	Revision   int       `bun:"revision,notnull,default:1"`
	Reason     string    `bun:"reason"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
