// Package identity answers whether accounts exist and who moderates a community.
package identity

//go:generate mockgen -source=identity.go -destination=mock/identity.go -package=mock

import (
	"context"
	"errors"
)

// ErrLookupFailed marks a directory call that could not be answered.
var ErrLookupFailed = errors.New("identity lookup failed")

// Directory resolves usernames on the host platform.
type Directory interface {
	Exists(ctx context.Context, username string) (bool, error)
}

// Moderators reports moderator status within a community.
type Moderators interface {
	IsModerator(ctx context.Context, community, username string) (bool, error)
}

// Alive treats any lookup failure as the account not existing.
func Alive(ctx context.Context, d Directory, username string) bool {
	if username == "" {
		return false
	}
	ok, err := d.Exists(ctx, username)
	return err == nil && ok
}
