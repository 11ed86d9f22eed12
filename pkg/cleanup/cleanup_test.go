package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/models"
)

type fakeMatches struct {
	byStatus map[models.MatchStatus][]models.Match
}

func (f *fakeMatches) MatchesByStatus(_ context.Context, status models.MatchStatus) ([]models.Match, error) {
	return f.byStatus[status], nil
}

type fakeChallenges struct{ limitSeconds int }

func (f *fakeChallenges) ChallengeByID(_ context.Context, id string) (*models.Challenge, error) {
	return &models.Challenge{ID: id, TimeLimitSeconds: f.limitSeconds}, nil
}

type fakeLifecycle struct {
	mu        sync.Mutex
	completed []string
	abandoned []string
	block     chan struct{} // when set, Complete blocks until closed
}

func (f *fakeLifecycle) Complete(_ context.Context, matchID, _ string) (*match.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, matchID)
	return &match.Result{MatchID: matchID}, nil
}

func (f *fakeLifecycle) Abandon(_ context.Context, matchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, matchID)
	return nil
}

func testConfig() *config.CleanupConfig {
	return &config.CleanupConfig{
		SweepInterval: 10 * time.Second,
		TimeLimitGrace: 10 * time.Second,
		LobbyMaxAge:   10 * time.Minute,
		ActiveMaxAge:  30 * time.Minute,
	}
}

func at(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}

func TestSweepAutoCompletesExpiredMatches(t *testing.T) {
	matches := &fakeMatches{byStatus: map[models.MatchStatus][]models.Match{
		models.MatchStatusActive: {
			{ID: "expired", ChallengeID: "ch", StartedAt: at(80 * time.Second)},
			{ID: "in-time", ChallengeID: "ch", StartedAt: at(30 * time.Second)},
			{ID: "in-grace", ChallengeID: "ch", StartedAt: at(65 * time.Second)},
		},
	}}
	lifecycle := &fakeLifecycle{}
	svc := NewService(matches, &fakeChallenges{limitSeconds: 60}, lifecycle, testConfig())

	assert.True(t, svc.Sweep(context.Background()))
	assert.Equal(t, []string{"expired"}, lifecycle.completed)
	assert.Empty(t, lifecycle.abandoned)
}

func TestSweepAbandonsStaleLobbiesAndOverlongActives(t *testing.T) {
	matches := &fakeMatches{byStatus: map[models.MatchStatus][]models.Match{
		models.MatchStatusLobby: {
			{ID: "old-lobby", CreatedAt: time.Now().Add(-11 * time.Minute)},
			{ID: "fresh-lobby", CreatedAt: time.Now().Add(-1 * time.Minute)},
		},
		models.MatchStatusActive: {
			{ID: "zombie", ChallengeID: "ch", StartedAt: at(31 * time.Minute)},
		},
	}}
	lifecycle := &fakeLifecycle{}
	svc := NewService(matches, &fakeChallenges{limitSeconds: 3600}, lifecycle, testConfig())

	assert.True(t, svc.Sweep(context.Background()))
	assert.ElementsMatch(t, []string{"old-lobby", "zombie"}, lifecycle.abandoned)
	assert.Empty(t, lifecycle.completed)
}

func TestSweepRefusesOverlap(t *testing.T) {
	matches := &fakeMatches{byStatus: map[models.MatchStatus][]models.Match{
		models.MatchStatusActive: {
			{ID: "expired", ChallengeID: "ch", StartedAt: at(2 * time.Minute)},
		},
	}}
	lifecycle := &fakeLifecycle{block: make(chan struct{})}
	svc := NewService(matches, &fakeChallenges{limitSeconds: 1}, lifecycle, testConfig())

	started := make(chan struct{})
	go func() {
		close(started)
		svc.Sweep(context.Background())
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the first sweep reach Complete

	assert.False(t, svc.Sweep(context.Background()), "overlapping sweep must be refused")
	close(lifecycle.block)
}
