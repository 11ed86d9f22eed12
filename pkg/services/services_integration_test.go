package services_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/test/util"
)

// noopSeeder satisfies the match creation path without a live state store.
type noopSeeder struct {
	created []string
	fail    bool
}

func (s *noopSeeder) Create(_ context.Context, matchID, _, _, _, _, _ string) (*models.MatchState, error) {
	if s.fail {
		return nil, assert.AnError
	}
	s.created = append(s.created, matchID)
	return &models.MatchState{ID: matchID}, nil
}

func TestUserLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	users := services.NewUserService(db, "test-secret")
	ctx := context.Background()

	user, err := users.Register(ctx, "alice_1", "Alice@Example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRating, user.Rating)
	assert.Equal(t, "alice@example.com", user.Email)

	_, err = users.Register(ctx, "alice_1", "other@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, services.ErrAlreadyExists)

	_, _, err = users.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, services.ErrInvalidCredentials)

	loggedIn, token, err := users.Login(ctx, "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	userID, err := users.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = users.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, services.ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	users := services.NewUserService(db, "test-secret")
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"short username", "ab", "a@b.com", "longenough"},
		{"bad username chars", "has spaces", "a@b.com", "longenough"},
		{"bad email", "validname", "nope", "longenough"},
		{"short password", "validname", "a@b.com", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := users.Register(ctx, tt.username, tt.email, tt.password)
			assert.True(t, services.IsValidationError(err), "expected validation error, got %v", err)
		})
	}
}

func TestApplyRatingChangeClampsAtZero(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	users := services.NewUserService(db, "test-secret")
	ctx := context.Background()

	user, err := users.Register(ctx, "lowball", "low@example.com", "hunter2hunter2")
	require.NoError(t, err)

	rating, err := users.ApplyRatingChange(ctx, user.ID, -2000, "loss")
	require.NoError(t, err)
	assert.Equal(t, 0, rating)

	rating, err = users.ApplyRatingChange(ctx, user.ID, 25, "win")
	require.NoError(t, err)
	assert.Equal(t, 25, rating)

	stats, err := users.Stats(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.Equal(t, 2, stats.TotalMatches)
	assert.InDelta(t, 0.5, stats.WinRate, 0.001)

	_, err = users.ApplyRatingChange(ctx, user.ID, 0, "sideways")
	assert.True(t, services.IsValidationError(err))
}

func TestMatchHistoryBounds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	users := services.NewUserService(db, "test-secret")
	ctx := context.Background()

	_, err := users.MatchHistory(ctx, "whoever", 0, 0)
	assert.True(t, services.IsValidationError(err))
	_, err = users.MatchHistory(ctx, "whoever", 101, 0)
	assert.True(t, services.IsValidationError(err))
	_, err = users.MatchHistory(ctx, "whoever", 10, -1)
	assert.True(t, services.IsValidationError(err))

	got, err := users.MatchHistory(ctx, "3b241101-e2bb-4255-8caf-4136c566a964", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func seedChallenge(t *testing.T, db *sqlx.DB, id, difficulty string) {
	t.Helper()
	testCases, _ := json.Marshal([]models.TestCase{
		{Input: []int{1, 2}, ExpectedOutput: 3, Weight: 1},
		{Input: []int{5, 5}, ExpectedOutput: 10, Weight: 2, IsHidden: true},
	})
	starter, _ := json.Marshal(map[string]string{"javascript": "// solve here"})
	tags, _ := json.Marshal([]string{"math"})
	db.MustExec(
		`INSERT INTO challenges (id, title, description, difficulty, time_limit_seconds, test_cases, starter_code, optimal_solution, optimal_execution_time, tags)
		 VALUES ($1, 'Sum', 'Add the numbers', $2, 600, $3, $4, 'return a+b', 50, $5)`,
		id, difficulty, string(testCases), string(starter), string(tags))
}

func TestChallengeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	challenges := services.NewChallengeService(db)
	ctx := context.Background()

	id := "6a0f52c1-58f4-4a4d-9a2a-111111111111"
	seedChallenge(t, db, id, "easy")

	got, err := challenges.ChallengeByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Sum", got.Title)
	assert.Equal(t, models.DifficultyEasy, got.Difficulty)
	require.Len(t, got.TestCases, 2)
	assert.True(t, got.TestCases[1].IsHidden)
	assert.Equal(t, 3.0, got.TotalWeight())
	assert.Equal(t, "return a+b", got.OptimalSolution)
	assert.Len(t, got.PublicTestCases(), 1)

	random, err := challenges.RandomChallenge(ctx, models.DifficultyEasy)
	require.NoError(t, err)
	assert.Equal(t, id, random.ID)

	_, err = challenges.RandomChallenge(ctx, models.DifficultyExpert)
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = challenges.ChallengeByID(ctx, "6a0f52c1-58f4-4a4d-9a2a-999999999999")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestMatchRowLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	users := services.NewUserService(db, "test-secret")
	challenges := services.NewChallengeService(db)
	matches := services.NewMatchService(db, users)
	seeder := &noopSeeder{}
	matches.SetSeeder(seeder)
	ctx := context.Background()

	p1, err := users.Register(ctx, "player_one", "p1@example.com", "hunter2hunter2")
	require.NoError(t, err)
	p2, err := users.Register(ctx, "player_two", "p2@example.com", "hunter2hunter2")
	require.NoError(t, err)

	challengeID := "6a0f52c1-58f4-4a4d-9a2a-222222222222"
	seedChallenge(t, db, challengeID, "medium")
	challenge, err := challenges.ChallengeByID(ctx, challengeID)
	require.NoError(t, err)

	matchID, err := matches.CreateMatch(ctx, p1.ID, p2.ID, challenge, "javascript")
	require.NoError(t, err)
	assert.Contains(t, seeder.created, matchID)

	row, err := matches.Row(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLobby, row.Status)
	assert.Nil(t, row.WinnerID)

	startedAt := time.Now()
	require.NoError(t, matches.MarkActive(ctx, matchID, startedAt))
	row, err = matches.Row(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusActive, row.Status)
	require.NotNil(t, row.StartedAt)

	active, err := matches.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, matchID, active[0].ID)

	winner := p1.ID
	require.NoError(t, matches.SaveResult(ctx, matchID, &winner, 700, 300, time.Now()))

	// A second finalize must not clobber the stored result.
	other := p2.ID
	err = matches.SaveResult(ctx, matchID, &other, 0, 999, time.Now())
	assert.ErrorIs(t, err, services.ErrAlreadyExists)

	row, err = matches.Row(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCompleted, row.Status)
	require.NotNil(t, row.WinnerID)
	assert.Equal(t, p1.ID, *row.WinnerID)
	assert.Equal(t, 700.0, *row.Player1Score)

	// Completed matches cannot be abandoned.
	require.NoError(t, matches.Abandon(ctx, matchID))
	row, err = matches.Row(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCompleted, row.Status)
}

func TestCreateMatchRollsBackOnSeedFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	users := services.NewUserService(db, "test-secret")
	challenges := services.NewChallengeService(db)
	matches := services.NewMatchService(db, users)
	matches.SetSeeder(&noopSeeder{fail: true})
	ctx := context.Background()

	p1, err := users.Register(ctx, "seed_one", "s1@example.com", "hunter2hunter2")
	require.NoError(t, err)
	p2, err := users.Register(ctx, "seed_two", "s2@example.com", "hunter2hunter2")
	require.NoError(t, err)

	challengeID := "6a0f52c1-58f4-4a4d-9a2a-333333333333"
	seedChallenge(t, db, challengeID, "hard")
	challenge, err := challenges.ChallengeByID(ctx, challengeID)
	require.NoError(t, err)

	_, err = matches.CreateMatch(ctx, p1.ID, p2.ID, challenge, "javascript")
	require.Error(t, err)

	rows, err := matches.MatchesByStatus(ctx, models.MatchStatusLobby)
	require.NoError(t, err)
	assert.Empty(t, rows, "failed seed must not leave a match row behind")
}

func TestChatRecordAndHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	users := services.NewUserService(db, "test-secret")
	challenges := services.NewChallengeService(db)
	matches := services.NewMatchService(db, users)
	matches.SetSeeder(&noopSeeder{})
	ctx := context.Background()

	p1, err := users.Register(ctx, "chat_one", "c1@example.com", "hunter2hunter2")
	require.NoError(t, err)
	p2, err := users.Register(ctx, "chat_two", "c2@example.com", "hunter2hunter2")
	require.NoError(t, err)

	challengeID := "6a0f52c1-58f4-4a4d-9a2a-444444444444"
	seedChallenge(t, db, challengeID, "easy")
	challenge, err := challenges.ChallengeByID(ctx, challengeID)
	require.NoError(t, err)

	matchID, err := matches.CreateMatch(ctx, p1.ID, p2.ID, challenge, "javascript")
	require.NoError(t, err)

	require.NoError(t, matches.RecordChat(ctx, matchID, p1.ID, "good luck"))
	require.NoError(t, matches.RecordChat(ctx, matchID, p2.ID, "you too"))

	history, err := matches.ChatHistory(ctx, matchID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "good luck", history[0].Content)
	assert.Equal(t, p2.ID, history[1].UserID)

	// Replays only exist for terminal matches.
	_, err = matches.ReplayFor(ctx, matchID)
	assert.True(t, services.IsValidationError(err))

	require.NoError(t, matches.Abandon(ctx, matchID))
	replay, err := matches.ReplayFor(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusAbandoned, replay.Match.Status)
	assert.Len(t, replay.Chat, 2)
}
