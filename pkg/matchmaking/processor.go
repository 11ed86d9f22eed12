package matchmaking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/metrics"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// ChallengeSource picks a random challenge for a difficulty. "any" means any
// difficulty.
type ChallengeSource interface {
	RandomChallenge(ctx context.Context, difficulty models.Difficulty) (*models.Challenge, error)
}

// MatchCreator creates a new match for a freshly paired couple: the
// persistent lobby row first, then the ephemeral state. A returned error
// means neither exists and the pair must stay queued.
type MatchCreator interface {
	CreateMatch(ctx context.Context, player1ID, player2ID string, challenge *models.Challenge, language string) (matchID string, err error)
}

// Notifier delivers matchFound to a paired player.
type Notifier interface {
	NotifyMatchFound(ctx context.Context, userID string, found MatchFound)
}

// MatchFound is the payload both players receive when paired.
type MatchFound struct {
	MatchID    string            `json:"match_id"`
	OpponentID string            `json:"opponent_id"`
	Challenge  *models.Challenge `json:"challenge"`
	Language   string            `json:"language"`
	TestCases  []models.TestCase `json:"test_cases"`
}

// Processor periodically scans every partition and pairs compatible players.
type Processor struct {
	queue      *Queue
	challenges ChallengeSource
	creator    MatchCreator
	notifier   Notifier
	cfg        *config.MatchmakingConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProcessor creates a pairing processor. Start must be called to begin
// pairing.
func NewProcessor(queue *Queue, challenges ChallengeSource, creator MatchCreator, notifier Notifier, cfg *config.MatchmakingConfig) *Processor {
	return &Processor{
		queue:      queue,
		challenges: challenges,
		creator:    creator,
		notifier:   notifier,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the pairing loop.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
	slog.Info("Matchmaking processor started", "interval", p.cfg.PairingInterval, "rating_range", p.cfg.RatingRange)
}

// Stop terminates the pairing loop and waits for the in-flight tick.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Matchmaking processor stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PairingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick scans every partition once. Partition errors are logged and skipped so
// one bad partition never starves the rest.
func (p *Processor) tick(ctx context.Context) {
	for _, part := range AllPartitions() {
		if err := p.pairPartition(ctx, part); err != nil {
			slog.Error("Pairing partition failed", "partition", part.Key(), "error", err)
		}
	}
}

// pairPartition repeatedly pairs the earliest compatible couple until no
// compatible pair remains.
func (p *Processor) pairPartition(ctx context.Context, part Partition) error {
	for {
		entries, err := p.queue.Entries(ctx, part)
		if err != nil {
			return err
		}
		a, b, ok := findPair(entries, p.cfg.RatingRange)
		if !ok {
			return nil
		}
		if err := p.pair(ctx, part, a, b); err != nil {
			// Both entries remain queued; retry next tick.
			return err
		}
	}
}

// findPair returns the first compatible pair in FIFO order: the earliest
// entry i and the earliest later entry j with |rating(i)-rating(j)| within
// range.
func findPair(entries []QueueEntry, ratingRange int) (QueueEntry, QueueEntry, bool) {
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			diff := entries[i].Rating - entries[j].Rating
			if diff < 0 {
				diff = -diff
			}
			if diff <= ratingRange {
				return entries[i], entries[j], true
			}
		}
	}
	return QueueEntry{}, QueueEntry{}, false
}

// pair creates the match and only then removes the two entries, so a failure
// anywhere leaves both players queued and no orphaned match behind.
func (p *Processor) pair(ctx context.Context, part Partition, a, b QueueEntry) error {
	challenge, err := p.challenges.RandomChallenge(ctx, models.Difficulty(part.Difficulty))
	if err != nil {
		return err
	}

	language := part.Language
	if language == "any" {
		language = models.LanguageJavaScript
	}

	matchID, err := p.creator.CreateMatch(ctx, a.UserID, b.UserID, challenge, language)
	if err != nil {
		return err
	}

	if err := p.queue.remove(ctx, part, a.UserID, b.UserID); err != nil {
		// Match exists but entries remain; the next tick re-reads the
		// partition, and Enqueue's uniqueness sweep covers re-joins.
		slog.Error("Removing paired entries failed", "match_id", matchID, "error", err)
	}
	metrics.PairsMatchedTotal.Inc()

	// Hidden tests and the optimal solution never leave the server.
	public := challenge.PublicTestCases()
	sanitized := *challenge
	sanitized.TestCases = public
	sanitized.OptimalSolution = ""
	p.notifier.NotifyMatchFound(ctx, a.UserID, MatchFound{
		MatchID: matchID, OpponentID: b.UserID, Challenge: &sanitized, Language: language, TestCases: public,
	})
	p.notifier.NotifyMatchFound(ctx, b.UserID, MatchFound{
		MatchID: matchID, OpponentID: a.UserID, Challenge: &sanitized, Language: language, TestCases: public,
	})

	slog.Info("Players paired", "match_id", matchID, "player1", a.UserID, "player2", b.UserID,
		"difficulty", part.Difficulty, "language", language)
	return nil
}
