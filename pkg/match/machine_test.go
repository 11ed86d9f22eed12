package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/judging"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// fakeStore is an in-memory stateStore with redis-like SetNX semantics.
type fakeStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	locks  map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: map[string]map[string]string{}, locks: map[string]string{}}
}

func (f *fakeStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) HashSet(_ context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = map[string]string{}
	}
	for k, v := range fields {
		f.hashes[key][k] = v
	}
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.locks[key]; exists {
		return false, nil
	}
	f.locks[key] = value
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.locks, k)
		delete(f.hashes, k)
	}
	return nil
}

func (f *fakeStore) ExpireInSeconds(_ context.Context, _ string, _ int) error { return nil }

// fakeRepo tracks the persistent row and rating calls.
type fakeRepo struct {
	mu          sync.Mutex
	row         models.Match
	ratings     map[string]int
	ratingCalls int
	saveCalls   int
}

func newFakeRepo(matchID, p1, p2 string) *fakeRepo {
	return &fakeRepo{
		row:     models.Match{ID: matchID, Player1ID: p1, Player2ID: p2, Status: models.MatchStatusLobby},
		ratings: map[string]int{p1: 1000, p2: 1000},
	}
}

func (f *fakeRepo) Row(_ context.Context, _ string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.row
	return &row, nil
}

func (f *fakeRepo) MarkActive(_ context.Context, _ string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.row.Status = models.MatchStatusActive
	f.row.StartedAt = &startedAt
	return nil
}

func (f *fakeRepo) SaveResult(_ context.Context, _ string, winnerID *string, p1, p2 float64, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	f.row.Status = models.MatchStatusCompleted
	f.row.WinnerID = winnerID
	f.row.Player1Score = &p1
	f.row.Player2Score = &p2
	f.row.CompletedAt = &completedAt
	return nil
}

func (f *fakeRepo) Abandon(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.row.Status = models.MatchStatusAbandoned
	return nil
}

func (f *fakeRepo) ApplyRatingChange(_ context.Context, userID string, delta int, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratingCalls++
	r := f.ratings[userID] + delta
	if r < 0 {
		r = 0
	}
	f.ratings[userID] = r
	return r, nil
}

type fakeChallenges struct{ challenge *models.Challenge }

func (f *fakeChallenges) ChallengeByID(_ context.Context, _ string) (*models.Challenge, error) {
	return f.challenge, nil
}

// fakeJudge declares player1 the winner and counts invocations.
type fakeJudge struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeJudge) Judge(_ context.Context, _ *models.Challenge, p1, p2 judging.Submission) (*judging.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &judging.Outcome{
		WinnerID: p1.UserID,
		Player1:  judging.PlayerScore{UserID: p1.UserID, FinalScore: 800},
		Player2:  judging.PlayerScore{UserID: p2.UserID, FinalScore: 300},
	}, nil
}

type fakeBoard struct {
	mu      sync.Mutex
	updates map[string]int
}

func (f *fakeBoard) UpdateRating(_ context.Context, userID string, rating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = map[string]int{}
	}
	f.updates[userID] = rating
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *fakeStore, *fakeRepo, *fakeJudge, *fakeBoard) {
	t.Helper()
	fs := newFakeStore()
	repo := newFakeRepo("m1", "alice", "bob")
	judge := &fakeJudge{}
	board := &fakeBoard{}
	challenges := &fakeChallenges{challenge: &models.Challenge{ID: "ch1", TimeLimitSeconds: 60}}
	return NewMachine(fs, repo, challenges, judge, board), fs, repo, judge, board
}

func activate(t *testing.T, m *Machine) *models.MatchState {
	t.Helper()
	ctx := context.Background()
	_, err := m.Create(ctx, "m1", "ch1", "alice", "bob", models.LanguagePython, "")
	require.NoError(t, err)
	_, started, err := m.SetReady(ctx, "m1", "alice")
	require.NoError(t, err)
	require.False(t, started)
	state, started, err := m.SetReady(ctx, "m1", "bob")
	require.NoError(t, err)
	require.True(t, started)
	return state
}

func TestCreateRejectsSamePlayer(t *testing.T) {
	m, _, _, _, _ := newTestMachine(t)
	_, err := m.Create(context.Background(), "m1", "ch1", "alice", "alice", models.LanguagePython, "")
	assert.Error(t, err)
}

func TestStateRoundTrip(t *testing.T) {
	m, _, _, _, _ := newTestMachine(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "m1", "ch1", "alice", "bob", models.LanguageGo, "package main")
	require.NoError(t, err)

	loaded, err := m.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, created, loaded)
}

func TestGetMissingMatch(t *testing.T) {
	m, _, _, _, _ := newTestMachine(t)
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestReadyTransitionsOnce(t *testing.T) {
	m, fs, repo, _, _ := newTestMachine(t)
	ctx := context.Background()

	state := activate(t, m)
	assert.Equal(t, models.MatchStatusActive, state.Status)
	assert.NotZero(t, state.StartedAt)
	assert.Equal(t, models.MatchStatusActive, repo.row.Status)

	// Repeating ready after activation must not restart the match.
	before := fs.hashes["match:m1"]["started_at"]
	_, started, err := m.SetReady(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, before, fs.hashes["match:m1"]["started_at"])
}

func TestReadyRejectsOutsiders(t *testing.T) {
	m, _, _, _, _ := newTestMachine(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "m1", "ch1", "alice", "bob", models.LanguagePython, "")
	require.NoError(t, err)

	_, _, err = m.SetReady(ctx, "m1", "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSubmitIsMonotonic(t *testing.T) {
	m, _, _, _, _ := newTestMachine(t)
	ctx := context.Background()
	activate(t, m)

	state, both, err := m.Submit(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.False(t, both)
	first := state.Player1.SubmittedAt
	require.NotZero(t, first)

	// Second submit keeps the original timestamp.
	time.Sleep(2 * time.Millisecond)
	state, both, err = m.Submit(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.False(t, both)
	assert.Equal(t, first, state.Player1.SubmittedAt)

	_, both, err = m.Submit(ctx, "m1", "bob")
	require.NoError(t, err)
	assert.True(t, both)
}

func TestSubmitRequiresActiveMatch(t *testing.T) {
	m, _, _, _, _ := newTestMachine(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "m1", "ch1", "alice", "bob", models.LanguagePython, "")
	require.NoError(t, err)

	_, _, err = m.Submit(ctx, "m1", "alice")
	assert.ErrorIs(t, err, ErrMatchNotActive)
}

func TestUpdateCodeRejectedAfterSubmit(t *testing.T) {
	m, _, _, _, _ := newTestMachine(t)
	ctx := context.Background()
	activate(t, m)

	_, err := m.UpdateCode(ctx, "m1", "alice", "print(1)", models.CursorPosition{Line: 1, Column: 8})
	require.NoError(t, err)

	_, _, err = m.Submit(ctx, "m1", "alice")
	require.NoError(t, err)

	_, err = m.UpdateCode(ctx, "m1", "alice", "print(2)", models.CursorPosition{})
	assert.ErrorIs(t, err, ErrMatchOver)
}

func TestCompleteIsIdempotent(t *testing.T) {
	m, _, repo, judge, board := newTestMachine(t)
	ctx := context.Background()
	activate(t, m)
	_, _, err := m.Submit(ctx, "m1", "alice")
	require.NoError(t, err)
	_, _, err = m.Submit(ctx, "m1", "bob")
	require.NoError(t, err)

	first, err := m.Complete(ctx, "m1", "both_submitted")
	require.NoError(t, err)
	assert.Equal(t, "alice", first.WinnerID)
	assert.Equal(t, 1025, first.RatingChanges["alice"].NewRating)
	assert.Equal(t, 985, first.RatingChanges["bob"].NewRating)
	assert.Equal(t, 1025, board.updates["alice"])
	assert.Equal(t, 985, board.updates["bob"])

	// A second call returns the stored outcome without re-judging.
	second, err := m.Complete(ctx, "m1", "both_submitted")
	require.NoError(t, err)
	assert.Equal(t, first.WinnerID, second.WinnerID)
	assert.Equal(t, first.Player1Score, second.Player1Score)
	assert.Equal(t, 1, judge.calls)
	assert.Equal(t, 1, repo.saveCalls)
}

func TestLateSubmitAfterCompletionConflicts(t *testing.T) {
	m, _, _, _, _ := newTestMachine(t)
	ctx := context.Background()
	activate(t, m)
	_, _, err := m.Submit(ctx, "m1", "alice")
	require.NoError(t, err)
	_, _, err = m.Submit(ctx, "m1", "bob")
	require.NoError(t, err)
	_, err = m.Complete(ctx, "m1", "both_submitted")
	require.NoError(t, err)

	_, _, err = m.Submit(ctx, "m1", "alice")
	assert.ErrorIs(t, err, ErrMatchOver)
}

func TestAbandon(t *testing.T) {
	m, _, repo, _, _ := newTestMachine(t)
	ctx := context.Background()
	_, err := m.Create(ctx, "m1", "ch1", "alice", "bob", models.LanguagePython, "")
	require.NoError(t, err)

	require.NoError(t, m.Abandon(ctx, "m1"))
	assert.Equal(t, models.MatchStatusAbandoned, repo.row.Status)

	// Re-abandoning is a no-op.
	require.NoError(t, m.Abandon(ctx, "m1"))

	_, _, err = m.SetReady(ctx, "m1", "alice")
	assert.ErrorIs(t, err, ErrMatchOver)
}
