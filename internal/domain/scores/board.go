package scores

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Board is the domain view over the timeframe collections.
type Board struct {
	store Store
	now   func() time.Time
}

// NewBoard wraps a store. A nil clock defaults to time.Now.
func NewBoard(store Store, now func() time.Time) *Board {
	if now == nil {
		now = time.Now
	}
	return &Board{store: store, now: now}
}

// Store exposes the underlying primitives.
func (b *Board) Store() Store {
	return b.store
}

// Score returns the stored all-time score of username.
func (b *Board) Score(ctx context.Context, username string) (int64, bool, error) {
	score, ok, err := b.store.Score(ctx, AllTime.Key(), username)
	if err != nil {
		return 0, false, fmt.Errorf("%w: score of %s: %v", ErrLookupFailed, username, err)
	}
	return score, ok, nil
}

// Award writes the new all-time score and adds one point to every periodic
// window. Periodic collections get their boundary expiry refreshed.
func (b *Board) Award(ctx context.Context, username string, newScore int64) error {
	if err := b.store.Set(ctx, AllTime.Key(), Member{Name: username, Score: newScore}); err != nil {
		return fmt.Errorf("set all-time score: %w", err)
	}
	now := b.now()
	for _, tf := range Periodic {
		if _, err := b.store.IncrementBy(ctx, tf.Key(), username, 1); err != nil {
			return fmt.Errorf("increment %s score: %w", tf, err)
		}
		if ttl, ok := UntilBoundary(tf, now); ok {
			if err := b.store.Expire(ctx, tf.Key(), ttl); err != nil {
				return fmt.Errorf("expire %s scores: %w", tf, err)
			}
		}
	}
	return nil
}

// SetAllTime overrides the all-time score. Periodic windows are untouched.
func (b *Board) SetAllTime(ctx context.Context, username string, score int64) error {
	if err := b.store.Set(ctx, AllTime.Key(), Member{Name: username, Score: score}); err != nil {
		return fmt.Errorf("set all-time score: %w", err)
	}
	return nil
}

// RemoveAllTime drops users from the all-time collection only.
func (b *Board) RemoveAllTime(ctx context.Context, usernames ...string) error {
	if len(usernames) == 0 {
		return nil
	}
	if err := b.store.Remove(ctx, AllTime.Key(), usernames...); err != nil {
		return fmt.Errorf("remove all-time scores: %w", err)
	}
	return nil
}

// RemoveEverywhere drops users from every timeframe collection.
func (b *Board) RemoveEverywhere(ctx context.Context, usernames ...string) error {
	if len(usernames) == 0 {
		return nil
	}
	for _, tf := range Timeframes {
		if err := b.store.Remove(ctx, tf.Key(), usernames...); err != nil {
			return fmt.Errorf("remove %s scores: %w", tf, err)
		}
	}
	return nil
}

// Count returns the number of users with an all-time score.
func (b *Board) Count(ctx context.Context) (int64, error) {
	n, err := b.store.Cardinality(ctx, AllTime.Key())
	if err != nil {
		return 0, fmt.Errorf("count all-time scores: %w", err)
	}
	return n, nil
}

// AllTimeMembers returns every all-time entry in ascending score order.
func (b *Board) AllTimeMembers(ctx context.Context) ([]Member, error) {
	members, err := b.store.RangeByScore(ctx, AllTime.Key(), All())
	if err != nil {
		return nil, fmt.Errorf("read all-time scores: %w", err)
	}
	return members, nil
}

// Top returns the n best entries of a timeframe, highest score first and
// ties ordered by username. Members tied with the n-th entry are read in full
// so the cut does not depend on the store's iteration order.
func (b *Board) Top(ctx context.Context, tf Timeframe, n int) ([]Member, error) {
	if n <= 0 {
		return nil, nil
	}
	key := tf.Key()
	top, err := b.store.RangeByScore(ctx, key, RangeOptions{Min: MinScore, Max: MaxScore, Desc: true, Limit: int64(n)})
	if err != nil {
		return nil, fmt.Errorf("read top %s scores: %w", tf, err)
	}
	if len(top) < n {
		SortRanked(top)
		return top, nil
	}

	cut := top[len(top)-1].Score
	tied, err := b.store.RangeByScore(ctx, key, RangeOptions{Min: cut, Max: cut})
	if err != nil {
		return nil, fmt.Errorf("read tied %s scores: %w", tf, err)
	}

	merged := make([]Member, 0, len(top)+len(tied))
	for _, m := range top {
		if m.Score > cut {
			merged = append(merged, m)
		}
	}
	merged = append(merged, tied...)
	SortRanked(merged)
	if len(merged) > n {
		merged = merged[:n]
	}
	return merged, nil
}

// SortRanked orders by score descending, then username ascending.
func SortRanked(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Name < members[j].Name
	})
}
