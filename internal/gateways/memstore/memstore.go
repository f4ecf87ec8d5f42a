// Package memstore is an in-process scores.Backend used for development and
// tests. It mirrors the sorted-set semantics of the redis gateway.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/disgoorg/repbot/internal/domain/scores"
)

type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	sets    map[string]map[string]int64
	expiry  map[string]time.Time
	markers map[string]marker
}

type marker struct {
	value     string
	expiresAt time.Time
}

var _ scores.Backend = (*Store)(nil)

// New returns an empty store. A nil clock defaults to time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:     now,
		sets:    make(map[string]map[string]int64),
		expiry:  make(map[string]time.Time),
		markers: make(map[string]marker),
	}
}

// set returns the live collection for key, dropping it first if expired.
func (s *Store) set(key string, create bool) map[string]int64 {
	if at, ok := s.expiry[key]; ok && !s.now().Before(at) {
		delete(s.sets, key)
		delete(s.expiry, key)
	}
	m, ok := s.sets[key]
	if !ok && create {
		m = make(map[string]int64)
		s.sets[key] = m
	}
	return m
}

func (s *Store) RangeByScore(_ context.Context, key string, opts scores.RangeOptions) ([]scores.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var members []scores.Member
	for name, score := range s.set(key, false) {
		if score < opts.Min || score > opts.Max {
			continue
		}
		members = append(members, scores.Member{Name: name, Score: score})
	}

	// Sorted-set order: score, then member bytes; reversed entirely for Desc.
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if opts.Desc {
			a, b = b, a
		}
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		return a.Name < b.Name
	})

	if opts.Offset > 0 {
		if opts.Offset >= int64(len(members)) {
			return nil, nil
		}
		members = members[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(members)) {
		members = members[:opts.Limit]
	}
	return members, nil
}

func (s *Store) Score(_ context.Context, key, member string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	score, ok := s.set(key, false)[member]
	return score, ok, nil
}

func (s *Store) IncrementBy(_ context.Context, key, member string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.set(key, true)
	m[member] += delta
	return m[member], nil
}

func (s *Store) Set(_ context.Context, key string, members ...scores.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.set(key, true)
	for _, member := range members {
		m[member.Name] = member.Score
	}
	return nil
}

func (s *Store) Remove(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.set(key, false)
	for _, member := range members {
		delete(m, member)
	}
	if m != nil && len(m) == 0 {
		delete(s.sets, key)
		delete(s.expiry, key)
	}
	return nil
}

func (s *Store) Cardinality(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.set(key, false))), nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set(key, false) == nil {
		return nil
	}
	s.expiry[key] = s.now().Add(ttl)
	return nil
}

// TTL reports the remaining expiry of a collection, for tests and diagnostics.
func (s *Store) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.expiry[key]
	if !ok {
		return 0, false
	}
	return at.Sub(s.now()), true
}

func (s *Store) GetMarker(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.marker(key)
	return m.value, ok, nil
}

func (s *Store) SetMarker(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putMarker(key, value, ttl)
	return nil
}

func (s *Store) SetMarkerIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.marker(key); ok {
		return false, nil
	}
	s.putMarker(key, value, ttl)
	return true, nil
}

func (s *Store) DeleteMarkers(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.markers, key)
	}
	return nil
}

// marker returns the live marker for key, dropping it if expired.
func (s *Store) marker(key string) (marker, bool) {
	m, ok := s.markers[key]
	if !ok {
		return marker{}, false
	}
	if !m.expiresAt.IsZero() && !s.now().Before(m.expiresAt) {
		delete(s.markers, key)
		return marker{}, false
	}
	return m, true
}

func (s *Store) putMarker(key, value string, ttl time.Duration) {
	m := marker{value: value}
	if ttl > 0 {
		m.expiresAt = s.now().Add(ttl)
	}
	s.markers[key] = m
}
