// Package matchmaking implements the partitioned matchmaking queues and the
// periodic pairing processor.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/codeclash-io/codeclash/pkg/metrics"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/store"
)

// QueueEntry is one waiting player in a partition.
type QueueEntry struct {
	UserID     string `json:"user_id"`
	Rating     int    `json:"rating"`
	EnqueuedAt int64  `json:"enqueued_at"` // unix millis
}

// Partition is a (difficulty, language) matchmaking bucket.
type Partition struct {
	Difficulty string
	Language   string
}

// Key returns the store key for this partition.
func (p Partition) Key() string {
	return store.QueueKey(p.Difficulty, p.Language)
}

// AllPartitions enumerates the fixed partition set the processor scans.
func AllPartitions() []Partition {
	difficulties := []string{
		string(models.DifficultyAny), string(models.DifficultyEasy), string(models.DifficultyMedium),
		string(models.DifficultyHard), string(models.DifficultyExpert),
	}
	languages := []string{"any", models.LanguageJavaScript, models.LanguagePython, models.LanguageGo}

	parts := make([]Partition, 0, len(difficulties)*len(languages))
	for _, d := range difficulties {
		for _, l := range languages {
			parts = append(parts, Partition{Difficulty: d, Language: l})
		}
	}
	return parts
}

// ratingsKey is the companion hash storing each queued user's rating, so
// entries stay removable by user id alone.
const ratingsKey = "queue:ratings"

// ErrNotQueued is returned when an operation references a user that is not
// waiting in any partition.
var ErrNotQueued = errors.New("matchmaking: user not in queue")

// Queue manages queue entries across partitions. A user appears in at most
// one partition: Enqueue removes the user from every partition first.
type Queue struct {
	store *store.Store
}

// NewQueue creates a queue over the given store.
func NewQueue(s *store.Store) *Queue {
	return &Queue{store: s}
}

// Enqueue adds a user to exactly one partition. Any previous entries for the
// user are removed first, preserving the queue-uniqueness invariant.
func (q *Queue) Enqueue(ctx context.Context, userID string, rating int, difficulty, language string) (*QueueEntry, error) {
	if !models.ValidDifficultyFilter(models.Difficulty(difficulty)) {
		return nil, fmt.Errorf("invalid difficulty filter %q", difficulty)
	}
	if language != "any" && !models.ValidLanguage(language) {
		return nil, fmt.Errorf("invalid language filter %q", language)
	}

	if err := q.Leave(ctx, userID); err != nil && !errors.Is(err, ErrNotQueued) {
		return nil, err
	}

	entry := &QueueEntry{
		UserID:     userID,
		Rating:     rating,
		EnqueuedAt: time.Now().UnixMilli(),
	}

	if err := q.store.HashSet(ctx, ratingsKey, map[string]string{userID: strconv.Itoa(rating)}); err != nil {
		return nil, fmt.Errorf("recording rating: %w", err)
	}
	part := Partition{Difficulty: difficulty, Language: language}
	err := q.store.OrderedSetAdd(ctx, part.Key(), store.Member{
		Member: userID,
		Score:  float64(entry.EnqueuedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("enqueueing user: %w", err)
	}
	metrics.PlayersQueued.Inc()
	return entry, nil
}

// Leave removes the user from every partition. Returns ErrNotQueued when the
// user was not waiting anywhere.
func (q *Queue) Leave(ctx context.Context, userID string) error {
	var removed int64
	for _, part := range AllPartitions() {
		n, err := q.store.OrderedSetRem(ctx, part.Key(), userID)
		if err != nil {
			return fmt.Errorf("removing from partition %s: %w", part.Key(), err)
		}
		removed += n
	}
	if removed == 0 {
		return ErrNotQueued
	}
	metrics.PlayersQueued.Sub(float64(removed))
	if err := q.store.HashDel(ctx, ratingsKey, userID); err != nil {
		return fmt.Errorf("clearing rating: %w", err)
	}
	return nil
}

// Entries returns a partition's waiting players in FIFO order.
func (q *Queue) Entries(ctx context.Context, part Partition) ([]QueueEntry, error) {
	members, err := q.store.OrderedSetRangeWithScores(ctx, part.Key(), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("reading partition %s: %w", part.Key(), err)
	}

	entries := make([]QueueEntry, 0, len(members))
	for _, m := range members {
		rating, err := q.rating(ctx, m.Member)
		if err != nil {
			// Rating record lost (e.g. expired mid-flight): drop the entry
			// rather than pairing blind.
			_, _ = q.store.OrderedSetRem(ctx, part.Key(), m.Member)
			continue
		}
		entries = append(entries, QueueEntry{
			UserID:     m.Member,
			Rating:     rating,
			EnqueuedAt: int64(m.Score),
		})
	}
	return entries, nil
}

// remove deletes specific users from one partition. Used by the pairing
// processor after a successful match creation.
func (q *Queue) remove(ctx context.Context, part Partition, userIDs ...string) error {
	n, err := q.store.OrderedSetRem(ctx, part.Key(), userIDs...)
	if err != nil {
		return err
	}
	metrics.PlayersQueued.Sub(float64(n))
	return q.store.HashDel(ctx, ratingsKey, userIDs...)
}

// Position returns the user's 0-based FIFO position in a partition and an
// advisory estimated wait in seconds: max(5, position*2).
func (q *Queue) Position(ctx context.Context, userID string, part Partition) (position int, estimatedWaitSec int, err error) {
	rank, err := q.store.OrderedSetRank(ctx, part.Key(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, 0, ErrNotQueued
		}
		return 0, 0, err
	}
	wait := int(rank) * 2
	if wait < 5 {
		wait = 5
	}
	return int(rank), wait, nil
}

func (q *Queue) rating(ctx context.Context, userID string) (int, error) {
	val, err := q.store.HashField(ctx, ratingsKey, userID)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}
