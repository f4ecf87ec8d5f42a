package award

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/internal/domain/labels"
	"github.com/disgoorg/repbot/internal/domain/settings"
)

// ErrNegativeScore rejects manual overrides below zero.
var ErrNegativeScore = errors.New("score must not be negative")

// SetScore is the operator override of a user's all-time score. Zero removes
// the user from the all-time collection.
func (g *Gate) SetScore(ctx context.Context, cfg *settings.Settings, community, username string, score int64) error {
	if score < 0 {
		return ErrNegativeScore
	}
	if username == "" {
		return errors.New("username is required")
	}
	now := g.now()

	if score == 0 {
		if err := g.board.RemoveAllTime(ctx, username); err != nil {
			return err
		}
		if err := g.cleanup.Forget(ctx, username); err != nil {
			return err
		}
	} else {
		if err := g.board.SetAllTime(ctx, username, score); err != nil {
			return err
		}
		if err := g.cleanup.Requeue(ctx, cfg, username); err != nil {
			return err
		}
	}

	if _, err := jobs.Now(ctx, g.jobs, keys.JobLeaderboardRebuild, now); err != nil {
		return fmt.Errorf("schedule leaderboard rebuild: %w", err)
	}

	if community != "" {
		label, exists, err := g.labels.UserLabel(ctx, community, username)
		if err != nil {
			warnOnErr(err, "Failed to read user label", username)
		} else if labels.ShouldRewrite(cfg.LabelPolicy, label, exists) {
			warnOnErr(g.labels.SetUserLabel(ctx, community, username, labels.ScoreText(score)), "Failed to update user label", username)
		}
	}

	slog.Info("Score set manually",
		slog.String("type", "award"),
		slog.String("user_name", username),
		slog.Int64("score", score),
	)
	return nil
}
