// Package content describes the hierarchical page store leaderboards and
// backups are written to.
package content

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrLookupFailed marks a page store call that could not be answered.
var ErrLookupFailed = errors.New("content store lookup failed")

// Permission is the read level of a page.
type Permission int

const (
	PermissionPublic Permission = iota
	PermissionModerators
)

func (p Permission) String() string {
	if p == PermissionModerators {
		return "moderators"
	}
	return "public"
}

// BackupPath is the fixed page holding the latest export.
const BackupPath = "backup"

type Page struct {
	Path       string
	Content    string
	Permission Permission
}

// Store is the content store contract. Get reports false for missing pages.
type Store interface {
	Get(ctx context.Context, path string) (Page, bool, error)
	Create(ctx context.Context, path, content string, perm Permission) error
	Update(ctx context.Context, path, content, reason string) error
	SetPermission(ctx context.Context, path string, perm Permission) error
}

// UserPath is the per-user page under root.
func UserPath(root, username string) string {
	return Join(root, "user", username)
}

// Join builds a clean page path without leading or trailing slashes.
func Join(parts ...string) string {
	return strings.Trim(path.Join(parts...), "/")
}
