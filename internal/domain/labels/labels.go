// Package labels reads and writes user and post display labels.
package labels

import (
	"context"
	"strconv"

	"github.com/disgoorg/repbot/internal/domain/reconcile"
	"github.com/disgoorg/repbot/internal/domain/settings"
)

type Store interface {
	// UserLabel reports false when the user has no label in the community.
	UserLabel(ctx context.Context, community, username string) (string, bool, error)
	SetUserLabel(ctx context.Context, community, username, text string) error
	SetPostLabel(ctx context.Context, community, postID, text string) error
}

// ShouldRewrite decides whether policy permits replacing the current user
// label with a score.
func ShouldRewrite(policy settings.LabelPolicy, current string, exists bool) bool {
	switch policy {
	case settings.OverwriteNumeric:
		if !exists || current == "" {
			return true
		}
		_, numeric := reconcile.ParseLabel(current)
		return numeric
	case settings.OverwriteAll:
		return !exists
	default:
		return false
	}
}

// ScoreText is the label text written for a score.
func ScoreText(score int64) string {
	return strconv.FormatInt(score, 10)
}
