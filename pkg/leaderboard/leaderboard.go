// Package leaderboard maintains the period-windowed rating rankings: daily,
// weekly, and all-time sorted sets plus a short-lived derived read cache.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeclash-io/codeclash/pkg/store"
)

// Period selects a leaderboard window.
type Period string

// Leaderboard periods. Daily and weekly keys expire so the window resets;
// the all-time board never does.
const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodAllTime Period = "alltime"
)

// Periods lists every period in update order.
func Periods() []Period {
	return []Period{PeriodDaily, PeriodWeekly, PeriodAllTime}
}

// ValidPeriod reports whether p is a known period.
func ValidPeriod(p Period) bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodAllTime:
		return true
	}
	return false
}

func periodTTL(p Period) time.Duration {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Cache lifetimes for derived reads.
const (
	topCacheTTL    = 60 * time.Second
	searchCacheTTL = 5 * time.Minute
)

// ErrUserNotRanked is returned when a user has no entry in the period.
var ErrUserNotRanked = errors.New("user not ranked in this period")

// Entry is one ranked row. Rank is 1-based.
type Entry struct {
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
	Rank   int    `json:"rank"`
}

// boardStore is the store subset the leaderboard needs.
type boardStore interface {
	OrderedSetAdd(ctx context.Context, key string, members ...store.Member) error
	OrderedSetRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]store.Member, error)
	OrderedSetRevRank(ctx context.Context, key, member string) (int64, error)
	OrderedSetScore(ctx context.Context, key, member string) (float64, error)
	OrderedSetCard(ctx context.Context, key string) (int64, error)
	OrderedSetRem(ctx context.Context, key string, members ...string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	ExpireInSeconds(ctx context.Context, key string, seconds int) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
}

// Board is the leaderboard handle.
type Board struct {
	store boardStore
}

// New creates a leaderboard over the given store.
func New(s boardStore) *Board {
	return &Board{store: s}
}

// UpdateRating writes the user's rating into every period and invalidates the
// derived cache. Period TTLs are set only when the key is first created so
// the window end stays fixed.
func (b *Board) UpdateRating(ctx context.Context, userID string, rating int) error {
	for _, p := range Periods() {
		key := store.LeaderboardKey(string(p))
		if err := b.store.OrderedSetAdd(ctx, key, store.Member{Member: userID, Score: float64(rating)}); err != nil {
			return fmt.Errorf("updating %s leaderboard: %w", p, err)
		}
		if ttl := periodTTL(p); ttl > 0 {
			if err := b.ensureTTL(ctx, key, ttl); err != nil {
				return err
			}
		}
	}
	b.invalidateCache(ctx)
	return nil
}

// Remove deletes the user from every period, for account deletion.
func (b *Board) Remove(ctx context.Context, userID string) error {
	for _, p := range Periods() {
		if _, err := b.store.OrderedSetRem(ctx, store.LeaderboardKey(string(p)), userID); err != nil {
			return fmt.Errorf("removing from %s leaderboard: %w", p, err)
		}
	}
	b.invalidateCache(ctx)
	return nil
}

// TopN returns the highest-rated n users, rank 1 first. Served from the
// derived cache when fresh.
func (b *Board) TopN(ctx context.Context, period Period, n int) ([]Entry, error) {
	if !ValidPeriod(period) {
		return nil, fmt.Errorf("unknown leaderboard period %q", period)
	}
	if n <= 0 {
		return nil, fmt.Errorf("top-n size must be positive, got %d", n)
	}

	cacheKey := fmt.Sprintf("leaderboard:cache:top:%s:%d", period, n)
	if entries, ok := b.cached(ctx, cacheKey); ok {
		return entries, nil
	}

	members, err := b.store.OrderedSetRevRangeWithScores(ctx, store.LeaderboardKey(string(period)), 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("reading %s leaderboard: %w", period, err)
	}
	entries := make([]Entry, len(members))
	for i, m := range members {
		entries[i] = Entry{UserID: m.Member, Rating: int(m.Score), Rank: i + 1}
	}

	b.cache(ctx, cacheKey, entries, topCacheTTL)
	return entries, nil
}

// Rank returns the user's entry in a period, or ErrUserNotRanked.
func (b *Board) Rank(ctx context.Context, period Period, userID string) (*Entry, error) {
	if !ValidPeriod(period) {
		return nil, fmt.Errorf("unknown leaderboard period %q", period)
	}
	key := store.LeaderboardKey(string(period))

	rank, err := b.store.OrderedSetRevRank(ctx, key, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotRanked
		}
		return nil, err
	}
	score, err := b.store.OrderedSetScore(ctx, key, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotRanked
		}
		return nil, err
	}
	return &Entry{UserID: userID, Rating: int(score), Rank: int(rank) + 1}, nil
}

// Around returns the window of entries centered on the user: window entries
// above and below. Served from the search cache when fresh.
func (b *Board) Around(ctx context.Context, period Period, userID string, window int) ([]Entry, error) {
	if !ValidPeriod(period) {
		return nil, fmt.Errorf("unknown leaderboard period %q", period)
	}
	if window < 0 {
		return nil, fmt.Errorf("window must be non-negative, got %d", window)
	}

	cacheKey := fmt.Sprintf("leaderboard:cache:around:%s:%s:%d", period, userID, window)
	if entries, ok := b.cached(ctx, cacheKey); ok {
		return entries, nil
	}

	key := store.LeaderboardKey(string(period))
	rank, err := b.store.OrderedSetRevRank(ctx, key, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotRanked
		}
		return nil, err
	}

	start := rank - int64(window)
	if start < 0 {
		start = 0
	}
	members, err := b.store.OrderedSetRevRangeWithScores(ctx, key, start, rank+int64(window))
	if err != nil {
		return nil, fmt.Errorf("reading %s leaderboard: %w", period, err)
	}
	entries := make([]Entry, len(members))
	for i, m := range members {
		entries[i] = Entry{UserID: m.Member, Rating: int(m.Score), Rank: int(start) + i + 1}
	}

	b.cache(ctx, cacheKey, entries, searchCacheTTL)
	return entries, nil
}

// Size returns the number of ranked users in a period.
func (b *Board) Size(ctx context.Context, period Period) (int64, error) {
	return b.store.OrderedSetCard(ctx, store.LeaderboardKey(string(period)))
}

// ensureTTL sets the period TTL only when the key has none yet.
func (b *Board) ensureTTL(ctx context.Context, key string, ttl time.Duration) error {
	current, err := b.store.TTL(ctx, key)
	if err != nil {
		return fmt.Errorf("checking leaderboard ttl: %w", err)
	}
	if current > 0 {
		return nil
	}
	return b.store.ExpireInSeconds(ctx, key, int(ttl.Seconds()))
}

func (b *Board) cached(ctx context.Context, key string) ([]Entry, bool) {
	raw, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("Corrupt leaderboard cache entry, dropping", "key", key, "error", err)
		_ = b.store.Del(ctx, key)
		return nil, false
	}
	return entries, true
}

func (b *Board) cache(ctx context.Context, key string, entries []Entry, ttl time.Duration) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := b.store.Set(ctx, key, string(raw), ttl); err != nil {
		slog.Warn("Writing leaderboard cache failed", "key", key, "error", err)
	}
}

// invalidateCache drops every derived cache entry.
func (b *Board) invalidateCache(ctx context.Context) {
	keys, err := b.store.KeysMatching(ctx, "leaderboard:cache:*")
	if err != nil {
		slog.Warn("Listing leaderboard cache keys failed", "error", err)
		return
	}
	if len(keys) > 0 {
		if err := b.store.Del(ctx, keys...); err != nil {
			slog.Warn("Invalidating leaderboard cache failed", "error", err)
		}
	}
}
