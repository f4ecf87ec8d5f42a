// Package redisstore implements scores.Backend on redis sorted sets and
// string keys.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/disgoorg/repbot/internal/domain/scores"
)

// zaddBatch bounds the members sent in one ZADD.
const zaddBatch = 500

type Config struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
}

type Store struct {
	client *redis.Client
}

var _ scores.Backend = (*Store)(nil)

// New connects and pings the server.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	client.AddHook(commandLogger{})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func scoreBound(v int64) string {
	switch v {
	case scores.MinScore:
		return "-inf"
	case scores.MaxScore:
		return "+inf"
	}
	return strconv.FormatInt(v, 10)
}

func (s *Store) RangeByScore(ctx context.Context, key string, opts scores.RangeOptions) ([]scores.Member, error) {
	by := &redis.ZRangeBy{
		Min:    scoreBound(opts.Min),
		Max:    scoreBound(opts.Max),
		Offset: opts.Offset,
		Count:  opts.Limit,
	}
	if by.Count <= 0 {
		by.Count = 0
		if by.Offset > 0 {
			by.Count = -1
		}
	}

	var (
		zs  []redis.Z
		err error
	)
	if opts.Desc {
		zs, err = s.client.ZRevRangeByScoreWithScores(ctx, key, by).Result()
	} else {
		zs, err = s.client.ZRangeByScoreWithScores(ctx, key, by).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}

	members := make([]scores.Member, 0, len(zs))
	for _, z := range zs {
		name, ok := z.Member.(string)
		if !ok {
			return nil, fmt.Errorf("range %s: unexpected member type %T", key, z.Member)
		}
		members = append(members, scores.Member{Name: name, Score: toInt(z.Score)})
	}
	return members, nil
}

func (s *Store) Score(ctx context.Context, key, member string) (int64, bool, error) {
	score, err := s.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("score of %s in %s: %w", member, key, err)
	}
	return toInt(score), true, nil
}

func (s *Store) IncrementBy(ctx context.Context, key, member string, delta int64) (int64, error) {
	score, err := s.client.ZIncrBy(ctx, key, float64(delta), member).Result()
	if err != nil {
		return 0, fmt.Errorf("increment %s in %s: %w", member, key, err)
	}
	return toInt(score), nil
}

func (s *Store) Set(ctx context.Context, key string, members ...scores.Member) error {
	if len(members) == 0 {
		return nil
	}
	if len(members) <= zaddBatch {
		if err := s.client.ZAdd(ctx, key, toZ(members)...).Err(); err != nil {
			return fmt.Errorf("set members of %s: %w", key, err)
		}
		return nil
	}

	pipe := s.client.TxPipeline()
	for start := 0; start < len(members); start += zaddBatch {
		end := start + zaddBatch
		if end > len(members) {
			end = len(members)
		}
		pipe.ZAdd(ctx, key, toZ(members[start:end])...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set members of %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.ZRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("remove members of %s: %w", key, err)
	}
	return nil
}

func (s *Store) Cardinality(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cardinality of %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetMarker(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get marker %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) SetMarker(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set marker %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetMarkerIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set marker %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) DeleteMarkers(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete markers: %w", err)
	}
	return nil
}

func toZ(members []scores.Member) []*redis.Z {
	zs := make([]*redis.Z, len(members))
	for i, m := range members {
		zs[i] = &redis.Z{Score: float64(m.Score), Member: m.Name}
	}
	return zs
}

func toInt(f float64) int64 {
	return int64(math.Round(f))
}
