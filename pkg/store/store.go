// Package store provides the ephemeral keyed state store used for match
// state, matchmaking queues, leaderboards, rate limits, and chat throttles.
// It is a thin capability wrapper around Redis; all operations are safe under
// concurrent access from multiple workers and across processes sharing the
// same Redis instance.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reconnect policy: exponential backoff capped at 3s, up to 10 attempts,
// then the operation surfaces a hard failure to the caller.
const (
	maxDialRetries  = 10
	minRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff = 3 * time.Second
)

// Store is the ephemeral state store handle.
type Store struct {
	rdb *redis.Client
}

// New connects to Redis at the given URL (redis://...) and verifies the
// connection with a ping.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.MaxRetries = maxDialRetries
	opts.MinRetryBackoff = minRetryBackoff
	opts.MaxRetryBackoff = maxRetryBackoff

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// NewFromClient wraps an existing Redis client (useful for testing).
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Get returns the string value at key, or ErrNotFound if the key is absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

// Set stores a string value. A zero ttl means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX stores value only if key does not exist. Returns true if the write
// happened. Used for completion exclusivity and one-shot transitions.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Del removes the given keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}

// HashGetAll returns every field of the hash at key. An empty map means the
// key is absent.
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

// HashSet writes the given field/value pairs into the hash at key.
func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return s.rdb.HSet(ctx, key, args...).Err()
}

// HashDel removes fields from the hash at key.
func (s *Store) HashDel(ctx context.Context, key string, fields ...string) error {
	return s.rdb.HDel(ctx, key, fields...).Err()
}

// HashField returns a single hash field, or ErrNotFound if absent.
func (s *Store) HashField(ctx context.Context, key, field string) (string, error) {
	val, err := s.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

// ListRange returns list elements in [start, stop] (inclusive, negative
// indexes count from the end, redis semantics).
func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, start, stop).Result()
}

// ListPush appends values to the list at key.
func (s *Store) ListPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.rdb.RPush(ctx, key, args...).Err()
}

// ListTrim trims the list at key to [start, stop].
func (s *Store) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return s.rdb.LTrim(ctx, key, start, stop).Err()
}

// Member is a scored ordered-set member.
type Member struct {
	Member string
	Score  float64
}

// OrderedSetAdd adds members to the sorted set at key.
func (s *Store) OrderedSetAdd(ctx context.Context, key string, members ...Member) error {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Member: m.Member, Score: m.Score}
	}
	return s.rdb.ZAdd(ctx, key, zs...).Err()
}

// OrderedSetRange returns members in [start, stop] by ascending score.
func (s *Store) OrderedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.ZRange(ctx, key, start, stop).Result()
}

// OrderedSetRangeWithScores returns members with scores in [start, stop] by
// ascending score.
func (s *Store) OrderedSetRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return toMembers(zs), nil
}

// OrderedSetRevRangeWithScores returns members with scores in [start, stop]
// by descending score.
func (s *Store) OrderedSetRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	return toMembers(zs), nil
}

// OrderedSetRank returns the ascending rank of member (0-based), or
// ErrNotFound if the member is absent.
func (s *Store) OrderedSetRank(ctx context.Context, key, member string) (int64, error) {
	rank, err := s.rdb.ZRank(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	return rank, err
}

// OrderedSetRevRank returns the descending rank of member (0-based), or
// ErrNotFound if the member is absent.
func (s *Store) OrderedSetRevRank(ctx context.Context, key, member string) (int64, error) {
	rank, err := s.rdb.ZRevRank(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	return rank, err
}

// OrderedSetScore returns the score of member, or ErrNotFound if absent.
func (s *Store) OrderedSetScore(ctx context.Context, key, member string) (float64, error) {
	score, err := s.rdb.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	return score, err
}

// OrderedSetCard returns the cardinality of the sorted set at key.
func (s *Store) OrderedSetCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

// OrderedSetRem removes members from the sorted set at key. Returns the
// number of members actually removed.
func (s *Store) OrderedSetRem(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.ZRem(ctx, key, args...).Result()
}

// Incr atomically increments the integer at key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

// ExpireInSeconds sets a TTL on key.
func (s *Store) ExpireInSeconds(ctx context.Context, key string, seconds int) error {
	return s.rdb.Expire(ctx, key, time.Duration(seconds)*time.Second).Err()
}

// TTL returns the remaining TTL of key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.rdb.TTL(ctx, key).Result()
}

// KeysMatching returns all keys matching the glob pattern. Uses SCAN rather
// than KEYS so large keyspaces do not block the server.
func (s *Store) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Publish sends payload on a pub/sub channel for cross-process fan-out.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pub/sub subscription on the given channel patterns.
// The caller owns the returned subscription and must Close it.
func (s *Store) Subscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return s.rdb.PSubscribe(ctx, patterns...)
}

func toMembers(zs []redis.Z) []Member {
	out := make([]Member, len(zs))
	for i, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			slog.Warn("Unexpected non-string sorted set member", "member", z.Member)
			member = fmt.Sprint(z.Member)
		}
		out[i] = Member{Member: member, Score: z.Score}
	}
	return out
}
