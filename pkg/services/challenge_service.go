package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// challengeRow is the sqlx scan target; the JSONB columns land as raw bytes.
type challengeRow struct {
	ID                   string          `db:"id"`
	Title                string          `db:"title"`
	Description          string          `db:"description"`
	Difficulty           string          `db:"difficulty"`
	TimeLimitSeconds     int             `db:"time_limit_seconds"`
	TestCases            json.RawMessage `db:"test_cases"`
	StarterCode          json.RawMessage `db:"starter_code"`
	OptimalSolution      sql.NullString  `db:"optimal_solution"`
	OptimalExecutionTime sql.NullFloat64 `db:"optimal_execution_time"`
	Tags                 json.RawMessage `db:"tags"`
}

// ChallengeService loads challenges for matchmaking and judging.
type ChallengeService struct {
	db *sqlx.DB
}

// NewChallengeService creates a challenge service.
func NewChallengeService(db *sqlx.DB) *ChallengeService {
	return &ChallengeService{db: db}
}

// ChallengeByID fetches one challenge with its hidden tests and optimal
// solution. Callers that hand challenges to clients must sanitize first.
func (s *ChallengeService) ChallengeByID(ctx context.Context, id string) (*models.Challenge, error) {
	var row challengeRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM challenges WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("loading challenge: %w", err)
	}
	return row.toModel()
}

// RandomChallenge picks a uniformly random challenge, optionally restricted to
// a difficulty. "any" means no restriction.
func (s *ChallengeService) RandomChallenge(ctx context.Context, difficulty models.Difficulty) (*models.Challenge, error) {
	query := `SELECT * FROM challenges ORDER BY random() LIMIT 1`
	args := []any{}
	if difficulty != "" && difficulty != models.DifficultyAny {
		query = `SELECT * FROM challenges WHERE difficulty = $1 ORDER BY random() LIMIT 1`
		args = append(args, string(difficulty))
	}

	var row challengeRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no challenges for difficulty %q: %w", difficulty, ErrNotFound)
		}
		return nil, fmt.Errorf("picking challenge: %w", err)
	}
	return row.toModel()
}

// List returns challenge summaries, optionally filtered by difficulty. Test
// cases and solutions are omitted.
func (s *ChallengeService) List(ctx context.Context, difficulty models.Difficulty) ([]models.Challenge, error) {
	query := `SELECT id, title, description, difficulty, time_limit_seconds, tags FROM challenges ORDER BY title`
	args := []any{}
	if difficulty != "" && difficulty != models.DifficultyAny {
		query = `SELECT id, title, description, difficulty, time_limit_seconds, tags FROM challenges WHERE difficulty = $1 ORDER BY title`
		args = append(args, string(difficulty))
	}

	var rows []struct {
		ID               string          `db:"id"`
		Title            string          `db:"title"`
		Description      string          `db:"description"`
		Difficulty       string          `db:"difficulty"`
		TimeLimitSeconds int             `db:"time_limit_seconds"`
		Tags             json.RawMessage `db:"tags"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing challenges: %w", err)
	}

	out := make([]models.Challenge, 0, len(rows))
	for _, r := range rows {
		c := models.Challenge{
			ID:               r.ID,
			Title:            r.Title,
			Description:      r.Description,
			Difficulty:       models.Difficulty(r.Difficulty),
			TimeLimitSeconds: r.TimeLimitSeconds,
		}
		if len(r.Tags) > 0 {
			if err := json.Unmarshal(r.Tags, &c.Tags); err != nil {
				return nil, fmt.Errorf("decoding tags for challenge %s: %w", r.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *challengeRow) toModel() (*models.Challenge, error) {
	c := &models.Challenge{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		Difficulty:       models.Difficulty(r.Difficulty),
		TimeLimitSeconds: r.TimeLimitSeconds,
	}
	if err := json.Unmarshal(r.TestCases, &c.TestCases); err != nil {
		return nil, fmt.Errorf("decoding test cases for challenge %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.StarterCode, &c.StarterCode); err != nil {
		return nil, fmt.Errorf("decoding starter code for challenge %s: %w", r.ID, err)
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &c.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags for challenge %s: %w", r.ID, err)
		}
	}
	if r.OptimalSolution.Valid {
		c.OptimalSolution = r.OptimalSolution.String
	}
	if r.OptimalExecutionTime.Valid {
		c.OptimalExecutionTime = r.OptimalExecutionTime.Float64
	}
	return c, nil
}
