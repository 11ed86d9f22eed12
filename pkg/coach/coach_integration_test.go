package coach_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/coach"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/test/util"
)

// seedMatchFor inserts the user (once) and a completed match row so analysis
// and hint rows have their foreign keys.
func seedMatchFor(t *testing.T, db *sqlx.DB, userID string) string {
	t.Helper()

	opponent := uuid.New().String()
	challengeID := uuid.New().String()
	matchID := uuid.New().String()

	for i, id := range []string{userID, opponent} {
		db.MustExec(
			`INSERT INTO users (id, username, email, password_hash, rating)
			 VALUES ($1, $2, $3, 'x', 1000)
			 ON CONFLICT DO NOTHING`,
			id, fmt.Sprintf("u_%s_%d", id[:8], i), fmt.Sprintf("%s_%d@example.com", id[:8], i))
	}
	db.MustExec(
		`INSERT INTO challenges (id, title, description, difficulty, test_cases, starter_code, tags)
		 VALUES ($1, 'Reverse It', 'Reverse the list', 'easy', '[]', '{}', '[]')`,
		challengeID)
	db.MustExec(
		`INSERT INTO matches (id, challenge_id, player1_id, player2_id, status, completed_at)
		 VALUES ($1, $2, $3, $4, 'completed', now())`,
		matchID, challengeID, userID, opponent)
	return matchID
}

func analysisFor(matchID, userID string, patterns []string, readability float64) *models.MatchAnalysis {
	return &models.MatchAnalysis{
		ID:          uuid.New().String(),
		MatchID:     matchID,
		UserID:      userID,
		Complexity:  models.ComplexityFinding{Time: "O(n^2)", Space: "O(n)"},
		Readability: models.ReadabilityFinding{Score: readability},
		Approach:    models.ApproachFinding{Summary: "brute force", Patterns: patterns},
		Suggestions: []string{"a", "b", "c"},
		CreatedAt:   time.Now(),
	}
}

func TestSaveAnalysisValidatesSuggestionBounds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	svc := coach.NewService(db, nil, nil)
	ctx := context.Background()

	userID := uuid.New().String()
	matchID := seedMatchFor(t, db, userID)

	a := analysisFor(matchID, userID, []string{"iteration"}, 6)
	a.Suggestions = []string{"only", "two"}
	assert.True(t, services.IsValidationError(svc.SaveAnalysis(ctx, a)))

	a.Suggestions = []string{"1", "2", "3", "4", "5", "6"}
	assert.True(t, services.IsValidationError(svc.SaveAnalysis(ctx, a)))

	a.Suggestions = []string{"1", "2", "3"}
	require.NoError(t, svc.SaveAnalysis(ctx, a))

	got, err := svc.AnalysisFor(ctx, matchID, userID)
	require.NoError(t, err)
	assert.Equal(t, "O(n^2)", got.Complexity.Time)
	assert.Equal(t, []string{"1", "2", "3"}, got.Suggestions)

	// Upsert: a second save for the same (match, user) replaces the findings.
	a.Readability.Score = 9
	require.NoError(t, svc.SaveAnalysis(ctx, a))
	got, err = svc.AnalysisFor(ctx, matchID, userID)
	require.NoError(t, err)
	assert.Equal(t, 9.0, got.Readability.Score)
}

func TestHistoryPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	svc := coach.NewService(db, nil, nil)
	ctx := context.Background()

	userID := uuid.New().String()
	for i := 0; i < 7; i++ {
		matchID := seedMatchFor(t, db, userID)
		a := analysisFor(matchID, userID, []string{"iteration"}, float64(i))
		a.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, svc.SaveAnalysis(ctx, a))
	}

	_, _, err := svc.History(ctx, userID, 0, 10)
	assert.True(t, services.IsValidationError(err))
	_, _, err = svc.History(ctx, userID, 1, 0)
	assert.True(t, services.IsValidationError(err))
	_, _, err = svc.History(ctx, userID, 1, 101)
	assert.True(t, services.IsValidationError(err))

	page1, total, err := svc.History(ctx, userID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, page1, 3)

	page3, total, err := svc.History(ctx, userID, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Len(t, page3, 1)

	// Newest first across pages.
	assert.True(t, page1[0].CreatedAt.After(page3[0].CreatedAt))

	timeline, err := svc.Timeline(ctx, userID)
	require.NoError(t, err)
	require.Len(t, timeline, 7)
	for i := 1; i < len(timeline); i++ {
		assert.False(t, timeline[i].CreatedAt.Before(timeline[i-1].CreatedAt))
	}
}

func TestWeaknessProfileThreshold(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	svc := coach.NewService(db, nil, nil)
	ctx := context.Background()

	userID := uuid.New().String()
	for i := 0; i < 4; i++ {
		matchID := seedMatchFor(t, db, userID)
		require.NoError(t, svc.SaveAnalysis(ctx, analysisFor(matchID, userID, []string{"brute force"}, 3)))
	}

	_, err := svc.WeaknessProfile(ctx, userID)
	assert.ErrorIs(t, err, coach.ErrInsufficientAnalyses)

	matchID := seedMatchFor(t, db, userID)
	require.NoError(t, svc.SaveAnalysis(ctx, analysisFor(matchID, userID, []string{"brute force", "off by one"}, 3)))

	profile, err := svc.WeaknessProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 5, profile.AnalysisCount)
	require.Len(t, profile.TopPatterns, 3)

	// "brute force", "O(n^2)" and "low readability" each recur in all five
	// analyses; the one-off "off by one" must not make the cut.
	seen := map[string]int{}
	for _, p := range profile.TopPatterns {
		seen[p.Pattern] = p.Frequency
	}
	assert.Equal(t, 5, seen["brute force"])
	assert.Equal(t, 5, seen["O(n^2)"])
	assert.Equal(t, 5, seen["low readability"])
	assert.NotContains(t, seen, "off by one")
}

func TestTrendsWindowCap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	svc := coach.NewService(db, nil, nil)
	ctx := context.Background()

	userID := uuid.New().String()
	for i := 0; i < 13; i++ {
		matchID := seedMatchFor(t, db, userID)
		a := analysisFor(matchID, userID, nil, float64(i%10))
		a.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, svc.SaveAnalysis(ctx, a))
	}

	trends, err := svc.Trends(ctx, userID)
	require.NoError(t, err)
	require.Len(t, trends, len(models.AnalysisCategories))
	for _, trend := range trends {
		assert.LessOrEqual(t, len(trend.Points), 10, "category %s exceeds the trend window", trend.Category)
		for i := 1; i < len(trend.Points); i++ {
			assert.False(t, trend.Points[i].CreatedAt.Before(trend.Points[i-1].CreatedAt))
		}
	}

	summary, err := svc.Summary(ctx, userID)
	require.NoError(t, err)
	require.Len(t, summary, 4)
	categories := make([]string, 0, 4)
	for _, cat := range summary {
		categories = append(categories, cat.Category)
	}
	assert.Equal(t, models.AnalysisCategories, categories)
}

func TestHintLadder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	db := util.SetupTestDatabase(t)
	svc := coach.NewService(db, nil, nil)
	ctx := context.Background()

	userID := uuid.New().String()
	matchID := seedMatchFor(t, db, userID)

	status, err := svc.Status(ctx, matchID, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.HintsUsed)
	assert.Equal(t, 1, status.NextLevel)
	assert.Equal(t, 3, status.Remaining)

	for level := 1; level <= 3; level++ {
		hint, err := svc.RequestHint(ctx, matchID, userID, "Reverse It", "code so far")
		require.NoError(t, err)
		assert.Equal(t, level, hint.Level)
		assert.NotEmpty(t, hint.Content)
	}

	_, err = svc.RequestHint(ctx, matchID, userID, "Reverse It", "code so far")
	assert.ErrorIs(t, err, coach.ErrHintsExhausted)

	hints, err := svc.Hints(ctx, matchID, userID)
	require.NoError(t, err)
	require.Len(t, hints, 3)
	assert.Equal(t, 1, hints[0].Level)
	assert.Equal(t, 3, hints[2].Level)

	status, err = svc.Status(ctx, matchID, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.HintsUsed)
	assert.Equal(t, 0, status.NextLevel)
	assert.Equal(t, 0, status.Remaining)
}
