// Package leaderboard renders ranked views of the score collections and syncs
// them into the content store.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/disgoorg/repbot/internal/domain/content"
	"github.com/disgoorg/repbot/internal/domain/history"
	"github.com/disgoorg/repbot/internal/domain/scores"
	"github.com/disgoorg/repbot/internal/domain/settings"
)

// userPageConcurrency bounds concurrent per-user page syncs.
const userPageConcurrency = 4

type Entry struct {
	Rank     int
	Username string
	Score    int64
}

type Section struct {
	Timeframe scores.Timeframe
	Entries   []Entry
}

type RebuildResult struct {
	Users             int
	Writes            int
	PermissionUpdates int
}

type Builder struct {
	store   scores.Store
	board   *scores.Board
	pages   content.Store
	history history.Store
	now     func() time.Time
}

// New builds a leaderboard builder. A nil clock defaults to time.Now.
func New(store scores.Store, pages content.Store, hist history.Store, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{
		store:   store,
		board:   scores.NewBoard(store, now),
		pages:   pages,
		history: hist,
		now:     now,
	}
}

// Snapshot returns the ranked top n of one timeframe.
func (b *Builder) Snapshot(ctx context.Context, tf scores.Timeframe, n int) ([]Entry, error) {
	top, err := b.board.Top(ctx, tf, n)
	if err != nil {
		return nil, err
	}
	return rank(top), nil
}

// Timeframes lists the windows the settings enable.
func Timeframes(cfg *settings.Settings) []scores.Timeframe {
	if cfg.Leaderboard.AllTimeOnly {
		return []scores.Timeframe{scores.AllTime}
	}
	return scores.Timeframes
}

// TargetPermission maps the leaderboard mode onto a page read level.
func TargetPermission(mode settings.LeaderboardMode) content.Permission {
	if mode == settings.LeaderboardModerators {
		return content.PermissionModerators
	}
	return content.PermissionPublic
}

// Rebuild renders every enabled timeframe and the per-user pages of everyone
// listed, writing only pages whose content or permission changed.
func (b *Builder) Rebuild(ctx context.Context, cfg *settings.Settings) (RebuildResult, error) {
	var res RebuildResult
	if cfg.Leaderboard.Mode == settings.LeaderboardOff {
		return res, nil
	}
	perm := TargetPermission(cfg.Leaderboard.Mode)
	root := cfg.Leaderboard.Root
	suffix := cfg.Leaderboard.ScoreSuffix

	if err := b.refreshExpiry(ctx); err != nil {
		return res, err
	}

	var sections []Section
	listed := make(map[string]struct{})
	for _, tf := range Timeframes(cfg) {
		entries, err := b.Snapshot(ctx, tf, cfg.Leaderboard.Size)
		if err != nil {
			return res, err
		}
		sections = append(sections, Section{Timeframe: tf, Entries: entries})
		for _, e := range entries {
			listed[e.Username] = struct{}{}
		}
	}

	var writes, permUpdates atomic.Int32
	w, p, err := b.sync(ctx, content.Join(root), renderBoard(root, suffix, sections), perm)
	if err != nil {
		return res, err
	}
	writes.Add(int32(w))
	permUpdates.Add(int32(p))

	users := make([]string, 0, len(listed))
	for u := range listed {
		users = append(users, u)
	}
	sort.Strings(users)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(userPageConcurrency)
	for _, username := range users {
		g.Go(func() error {
			total, _, err := b.board.Score(gctx, username)
			if err != nil {
				return err
			}
			var records []history.Record
			if b.history != nil {
				records, err = b.history.Recent(gctx, username, history.RecentLimit)
				if err != nil {
					return fmt.Errorf("read award history of %s: %w", username, err)
				}
			}
			w, p, err := b.sync(gctx, content.UserPath(root, username), renderUser(username, total, suffix, records), perm)
			if err != nil {
				return err
			}
			writes.Add(int32(w))
			permUpdates.Add(int32(p))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Users = len(users)
	res.Writes = int(writes.Load())
	res.PermissionUpdates = int(permUpdates.Load())

	slog.Info("Leaderboard rebuilt",
		slog.String("type", "job"),
		slog.Int("users", res.Users),
		slog.Int("writes", res.Writes),
		slog.Int("permission_updates", res.PermissionUpdates),
	)
	return res, nil
}

// refreshExpiry sets each periodic collection to expire at its next boundary.
func (b *Builder) refreshExpiry(ctx context.Context) error {
	now := b.now()
	for _, tf := range scores.Periodic {
		ttl, ok := scores.UntilBoundary(tf, now)
		if !ok {
			continue
		}
		if err := b.store.Expire(ctx, tf.Key(), ttl); err != nil {
			return fmt.Errorf("expire %s scores: %w", tf, err)
		}
	}
	return nil
}

// sync writes page content and permission only when they differ. It returns
// the number of content writes and permission updates issued.
func (b *Builder) sync(ctx context.Context, path, text string, perm content.Permission) (int, int, error) {
	page, exists, err := b.pages.Get(ctx, path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: get page %s: %v", content.ErrLookupFailed, path, err)
	}

	if !exists {
		if err := b.pages.Create(ctx, path, text, perm); err != nil {
			return 0, 0, fmt.Errorf("create page %s: %w", path, err)
		}
		return 1, 0, nil
	}

	writes, updates := 0, 0
	if page.Content != text {
		if err := b.pages.Update(ctx, path, text, "leaderboard update"); err != nil {
			return 0, 0, fmt.Errorf("update page %s: %w", path, err)
		}
		writes++
	}
	if page.Permission != perm {
		if err := b.pages.SetPermission(ctx, path, perm); err != nil {
			return writes, 0, fmt.Errorf("set permission of %s: %w", path, err)
		}
		updates++
	}
	return writes, updates, nil
}
