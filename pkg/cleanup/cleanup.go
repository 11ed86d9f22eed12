// Package cleanup sweeps stale matches: time-expired active matches are
// auto-completed with whatever code both players have, old lobbies and
// long-running actives are abandoned.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// MatchSource lists the non-terminal match rows the sweeper inspects.
type MatchSource interface {
	MatchesByStatus(ctx context.Context, status models.MatchStatus) ([]models.Match, error)
}

// ChallengeLoader resolves a match's challenge for its time limit.
type ChallengeLoader interface {
	ChallengeByID(ctx context.Context, id string) (*models.Challenge, error)
}

// Lifecycle is the match-machine subset the sweeper drives.
type Lifecycle interface {
	Complete(ctx context.Context, matchID, cause string) (*match.Result, error)
	Abandon(ctx context.Context, matchID string) error
}

// Service runs the periodic sweep. Only one sweep runs at a time; an
// overlapping tick is refused and logged.
type Service struct {
	matches    MatchSource
	challenges ChallengeLoader
	lifecycle  Lifecycle
	cfg        *config.CleanupConfig

	sweeping atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates the cleanup service.
func NewService(matches MatchSource, challenges ChallengeLoader, lifecycle Lifecycle, cfg *config.CleanupConfig) *Service {
	return &Service{
		matches:    matches,
		challenges: challenges,
		lifecycle:  lifecycle,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	slog.Info("Match cleanup service started", "interval", s.cfg.SweepInterval)
}

// Stop terminates the loop and waits for an in-flight sweep.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("Match cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass. Returns false when a sweep was already in flight.
func (s *Service) Sweep(ctx context.Context) bool {
	if !s.sweeping.CompareAndSwap(false, true) {
		slog.Warn("Cleanup sweep still running, skipping tick")
		return false
	}
	defer s.sweeping.Store(false)

	s.sweepLobbies(ctx)
	s.sweepActive(ctx)
	return true
}

// sweepLobbies abandons lobby matches older than LobbyMaxAge.
func (s *Service) sweepLobbies(ctx context.Context) {
	lobbies, err := s.matches.MatchesByStatus(ctx, models.MatchStatusLobby)
	if err != nil {
		slog.Error("Listing lobby matches failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-s.cfg.LobbyMaxAge)
	for _, m := range lobbies {
		if m.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.lifecycle.Abandon(ctx, m.ID); err != nil && !errors.Is(err, match.ErrMatchNotFound) {
			slog.Error("Abandoning stale lobby failed", "match_id", m.ID, "error", err)
			continue
		}
		slog.Info("Abandoned stale lobby", "match_id", m.ID, "created_at", m.CreatedAt)
	}
}

// sweepActive auto-completes active matches past their time limit plus grace
// and abandons actives past the safety-net age.
func (s *Service) sweepActive(ctx context.Context) {
	active, err := s.matches.MatchesByStatus(ctx, models.MatchStatusActive)
	if err != nil {
		slog.Error("Listing active matches failed", "error", err)
		return
	}

	now := time.Now()
	for _, m := range active {
		if m.StartedAt == nil {
			continue
		}
		age := now.Sub(*m.StartedAt)

		if age > s.cfg.ActiveMaxAge {
			if err := s.lifecycle.Abandon(ctx, m.ID); err != nil {
				slog.Error("Abandoning overlong match failed", "match_id", m.ID, "error", err)
			} else {
				slog.Warn("Abandoned overlong active match", "match_id", m.ID, "age", age)
			}
			continue
		}

		limit, err := s.timeLimit(ctx, m.ChallengeID)
		if err != nil {
			slog.Error("Loading challenge for sweep failed", "match_id", m.ID, "error", err)
			continue
		}
		if age <= limit+s.cfg.TimeLimitGrace {
			continue
		}

		// Racing an in-flight player submit on completion exclusivity is
		// fine; whoever wins, the other side gets the stored outcome.
		_, err = s.lifecycle.Complete(ctx, m.ID, "time_limit")
		switch {
		case err == nil:
			slog.Info("Auto-completed timed-out match", "match_id", m.ID, "age", age)
		case errors.Is(err, match.ErrCompletionInProgress):
		default:
			slog.Error("Auto-completing match failed", "match_id", m.ID, "error", err)
		}
	}
}

func (s *Service) timeLimit(ctx context.Context, challengeID string) (time.Duration, error) {
	challenge, err := s.challenges.ChallengeByID(ctx, challengeID)
	if err != nil {
		return 0, err
	}
	return time.Duration(challenge.TimeLimitSeconds) * time.Second, nil
}
