// Package scores owns the per-timeframe score collections and the primitives
// the rest of repbot builds on.
package scores

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrLookupFailed wraps store failures surfaced to callers that must tell
// "no score" apart from "could not ask".
var ErrLookupFailed = errors.New("score store lookup failed")

// Member is one (username, score) entry of a sorted collection.
type Member struct {
	Name  string
	Score int64
}

// Unbounded range limits for RangeOptions.
const (
	MinScore int64 = math.MinInt64
	MaxScore int64 = math.MaxInt64
)

// RangeOptions selects a window of a collection ordered by score.
// Ties are returned in the store's native order (ascending by member).
type RangeOptions struct {
	Min    int64
	Max    int64
	Desc   bool
	Offset int64
	// Limit <= 0 means no limit.
	Limit int64
}

// All returns options covering the whole collection.
func All() RangeOptions {
	return RangeOptions{Min: MinScore, Max: MaxScore}
}

// Store is the sorted-collection contract consumed by the core.
type Store interface {
	RangeByScore(ctx context.Context, key string, opts RangeOptions) ([]Member, error)
	// Score returns false when the member is absent.
	Score(ctx context.Context, key, member string) (int64, bool, error)
	IncrementBy(ctx context.Context, key, member string, delta int64) (int64, error)
	Set(ctx context.Context, key string, members ...Member) error
	Remove(ctx context.Context, key string, members ...string) error
	Cardinality(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// MarkerStore is a small string KV with per-key expiry.
type MarkerStore interface {
	// GetMarker returns false when the key is absent or expired.
	GetMarker(ctx context.Context, key string) (string, bool, error)
	// SetMarker stores value; ttl <= 0 means no expiry.
	SetMarker(ctx context.Context, key, value string, ttl time.Duration) error
	// SetMarkerIfAbsent reports whether the value was written.
	SetMarkerIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteMarkers(ctx context.Context, keys ...string) error
}

// Backend bundles both contracts; the redis and memory gateways implement it.
type Backend interface {
	Store
	MarkerStore
}
