package leaderboard

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/store"
)

// fakeBoardStore is an in-memory boardStore with sorted-set semantics.
type fakeBoardStore struct {
	zsets map[string]map[string]float64
	kv    map[string]string
	ttls  map[string]time.Duration
}

func newFakeBoardStore() *fakeBoardStore {
	return &fakeBoardStore{
		zsets: map[string]map[string]float64{},
		kv:    map[string]string{},
		ttls:  map[string]time.Duration{},
	}
}

func (f *fakeBoardStore) OrderedSetAdd(_ context.Context, key string, members ...store.Member) error {
	if f.zsets[key] == nil {
		f.zsets[key] = map[string]float64{}
	}
	for _, m := range members {
		f.zsets[key][m.Member] = m.Score
	}
	return nil
}

// descending returns members sorted by score descending, ties by member asc.
func (f *fakeBoardStore) descending(key string) []store.Member {
	var out []store.Member
	for m, s := range f.zsets[key] {
		out = append(out, store.Member{Member: m, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Member > out[j].Member
	})
	return out
}

func (f *fakeBoardStore) OrderedSetRevRangeWithScores(_ context.Context, key string, start, stop int64) ([]store.Member, error) {
	all := f.descending(key)
	if start >= int64(len(all)) {
		return nil, nil
	}
	if stop >= int64(len(all)) {
		stop = int64(len(all)) - 1
	}
	return all[start : stop+1], nil
}

func (f *fakeBoardStore) OrderedSetRevRank(_ context.Context, key, member string) (int64, error) {
	for i, m := range f.descending(key) {
		if m.Member == member {
			return int64(i), nil
		}
	}
	return 0, store.ErrNotFound
}

func (f *fakeBoardStore) OrderedSetScore(_ context.Context, key, member string) (float64, error) {
	s, ok := f.zsets[key][member]
	if !ok {
		return 0, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeBoardStore) OrderedSetCard(_ context.Context, key string) (int64, error) {
	return int64(len(f.zsets[key])), nil
}

func (f *fakeBoardStore) OrderedSetRem(_ context.Context, key string, members ...string) (int64, error) {
	var n int64
	for _, m := range members {
		if _, ok := f.zsets[key][m]; ok {
			delete(f.zsets[key], m)
			n++
		}
	}
	return n, nil
}

func (f *fakeBoardStore) TTL(_ context.Context, key string) (time.Duration, error) {
	if ttl, ok := f.ttls[key]; ok {
		return ttl, nil
	}
	return -1, nil
}

func (f *fakeBoardStore) ExpireInSeconds(_ context.Context, key string, seconds int) error {
	f.ttls[key] = time.Duration(seconds) * time.Second
	return nil
}

func (f *fakeBoardStore) Get(_ context.Context, key string) (string, error) {
	v, ok := f.kv[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *fakeBoardStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.kv[key] = value
	return nil
}

func (f *fakeBoardStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.kv, k)
	}
	return nil
}

func (f *fakeBoardStore) KeysMatching(_ context.Context, _ string) ([]string, error) {
	var keys []string
	for k := range f.kv {
		keys = append(keys, k)
	}
	return keys, nil
}

func seed(t *testing.T, b *Board) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.UpdateRating(ctx, "alice", 1200))
	require.NoError(t, b.UpdateRating(ctx, "bob", 1100))
	require.NoError(t, b.UpdateRating(ctx, "carol", 1300))
}

func TestTopN(t *testing.T) {
	b := New(newFakeBoardStore())
	seed(t, b)

	top, err := b.TopN(context.Background(), PeriodAllTime, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, Entry{UserID: "carol", Rating: 1300, Rank: 1}, top[0])
	assert.Equal(t, Entry{UserID: "alice", Rating: 1200, Rank: 2}, top[1])
}

func TestRank(t *testing.T) {
	b := New(newFakeBoardStore())
	seed(t, b)

	entry, err := b.Rank(context.Background(), PeriodDaily, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Rank)
	assert.Equal(t, 1100, entry.Rating)

	_, err = b.Rank(context.Background(), PeriodDaily, "nobody")
	assert.ErrorIs(t, err, ErrUserNotRanked)
}

func TestAroundClampsAtTop(t *testing.T) {
	b := New(newFakeBoardStore())
	seed(t, b)

	entries, err := b.Around(context.Background(), PeriodAllTime, "alice", 5)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "carol", entries[0].UserID)
}

func TestUpdateRatingInvalidatesCache(t *testing.T) {
	fs := newFakeBoardStore()
	b := New(fs)
	seed(t, b)
	ctx := context.Background()

	top, err := b.TopN(ctx, PeriodAllTime, 3)
	require.NoError(t, err)
	assert.Equal(t, "carol", top[0].UserID)
	assert.NotEmpty(t, fs.kv, "top read should populate the cache")

	// A rating jump must be visible immediately, not after the cache TTL.
	require.NoError(t, b.UpdateRating(ctx, "bob", 2000))
	top, err = b.TopN(ctx, PeriodAllTime, 3)
	require.NoError(t, err)
	assert.Equal(t, "bob", top[0].UserID)
}

func TestRemoveDropsAllPeriods(t *testing.T) {
	fs := newFakeBoardStore()
	b := New(fs)
	seed(t, b)
	ctx := context.Background()

	require.NoError(t, b.Remove(ctx, "carol"))
	for _, p := range Periods() {
		_, err := b.Rank(ctx, p, "carol")
		assert.ErrorIs(t, err, ErrUserNotRanked, "period %s", p)
	}
}

func TestPeriodTTLSetOnce(t *testing.T) {
	fs := newFakeBoardStore()
	b := New(fs)
	ctx := context.Background()

	require.NoError(t, b.UpdateRating(ctx, "alice", 1000))
	daily := fs.ttls[store.LeaderboardKey(string(PeriodDaily))]
	assert.Equal(t, 24*time.Hour, daily)
	weekly := fs.ttls[store.LeaderboardKey(string(PeriodWeekly))]
	assert.Equal(t, 7*24*time.Hour, weekly)
	_, hasAllTime := fs.ttls[store.LeaderboardKey(string(PeriodAllTime))]
	assert.False(t, hasAllTime, "all-time board never expires")

	// Simulate half the window elapsing; the next update must not reset it.
	fs.ttls[store.LeaderboardKey(string(PeriodDaily))] = 12 * time.Hour
	require.NoError(t, b.UpdateRating(ctx, "alice", 1025))
	assert.Equal(t, 12*time.Hour, fs.ttls[store.LeaderboardKey(string(PeriodDaily))])
}

func TestTopNValidation(t *testing.T) {
	b := New(newFakeBoardStore())
	_, err := b.TopN(context.Background(), "monthly", 10)
	assert.Error(t, err)
	_, err = b.TopN(context.Background(), PeriodDaily, 0)
	assert.Error(t, err)
}
