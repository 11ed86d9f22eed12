package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// stateSeeder is the match-machine subset used when creating a match. It is
// attached after construction because the machine's repository is this
// service.
type stateSeeder interface {
	Create(ctx context.Context, matchID, challengeID, player1ID, player2ID, language, starterCode string) (*models.MatchState, error)
}

// ChatMessage is one persisted chat line, already moderated.
type ChatMessage struct {
	ID        int64     `db:"id" json:"id"`
	MatchID   string    `db:"match_id" json:"match_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Replay bundles a completed match row with its chat log.
type Replay struct {
	Match *models.Match `json:"match"`
	Chat  []ChatMessage `json:"chat"`
}

// MatchService owns the persistent match rows: creation, lifecycle writes,
// chat, and history reads. The ephemeral side lives in the match machine.
type MatchService struct {
	db    *sqlx.DB
	users *UserService

	seeder stateSeeder
}

// NewMatchService creates a match service. Call SetSeeder with the match
// machine before matchmaking traffic starts.
func NewMatchService(db *sqlx.DB, users *UserService) *MatchService {
	return &MatchService{db: db, users: users}
}

// SetSeeder attaches the ephemeral state seeder.
func (s *MatchService) SetSeeder(seeder stateSeeder) {
	s.seeder = seeder
}

// CreateMatch inserts the persistent lobby row and seeds ephemeral state for a
// freshly paired couple. The row goes first: a seeding failure rolls it back
// so the pair stays queued with nothing left behind.
func (s *MatchService) CreateMatch(ctx context.Context, player1ID, player2ID string, challenge *models.Challenge, language string) (string, error) {
	matchID := uuid.New().String()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (id, challenge_id, player1_id, player2_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		matchID, challenge.ID, player1ID, player2ID, models.MatchStatusLobby, time.Now())
	if err != nil {
		return "", fmt.Errorf("inserting match row: %w", err)
	}

	_, err = s.seeder.Create(ctx, matchID, challenge.ID, player1ID, player2ID, language, challenge.StarterCode[language])
	if err != nil {
		if _, delErr := s.db.ExecContext(ctx, `DELETE FROM matches WHERE id = $1`, matchID); delErr != nil {
			return "", fmt.Errorf("seeding match state: %w (row cleanup also failed: %v)", err, delErr)
		}
		return "", fmt.Errorf("seeding match state: %w", err)
	}
	return matchID, nil
}

// Row fetches the persistent match row.
func (s *MatchService) Row(ctx context.Context, matchID string) (*models.Match, error) {
	var m models.Match
	err := s.db.GetContext(ctx, &m, `SELECT * FROM matches WHERE id = $1`, matchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
		}
		return nil, fmt.Errorf("loading match row: %w", err)
	}
	return &m, nil
}

// MarkActive records the lobby→active transition on the row.
func (s *MatchService) MarkActive(ctx context.Context, matchID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
		models.MatchStatusActive, startedAt, matchID, models.MatchStatusLobby)
	if err != nil {
		return fmt.Errorf("marking match active: %w", err)
	}
	return nil
}

// SaveResult finalizes the row with scores and the winner. The status guard
// keeps a late writer from clobbering an already-completed match.
func (s *MatchService) SaveResult(ctx context.Context, matchID string, winnerID *string, p1Score, p2Score float64, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches
		 SET status = $1, winner_id = $2, player1_score = $3, player2_score = $4, completed_at = $5
		 WHERE id = $6 AND status NOT IN ($7, $8)`,
		models.MatchStatusCompleted, winnerID, p1Score, p2Score, completedAt,
		matchID, models.MatchStatusCompleted, models.MatchStatusAbandoned)
	if err != nil {
		return fmt.Errorf("saving match result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("match %s already finalized or missing: %w", matchID, ErrAlreadyExists)
	}
	return nil
}

// Abandon marks the row abandoned. Completed rows are left alone.
func (s *MatchService) Abandon(ctx context.Context, matchID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET status = $1, completed_at = $2 WHERE id = $3 AND status <> $4`,
		models.MatchStatusAbandoned, time.Now(), matchID, models.MatchStatusCompleted)
	if err != nil {
		return fmt.Errorf("abandoning match row: %w", err)
	}
	return nil
}

// ApplyRatingChange delegates to the user service.
func (s *MatchService) ApplyRatingChange(ctx context.Context, userID string, delta int, outcome string) (int, error) {
	return s.users.ApplyRatingChange(ctx, userID, delta, outcome)
}

// MatchesByStatus lists rows in a given lifecycle state, oldest first.
func (s *MatchService) MatchesByStatus(ctx context.Context, status models.MatchStatus) ([]models.Match, error) {
	var matches []models.Match
	err := s.db.SelectContext(ctx, &matches,
		`SELECT * FROM matches WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("listing matches by status: %w", err)
	}
	return matches, nil
}

// ListActive returns currently active matches for the spectator lobby.
func (s *MatchService) ListActive(ctx context.Context) ([]models.Match, error) {
	return s.MatchesByStatus(ctx, models.MatchStatusActive)
}

// RecordChat persists a moderated chat line.
func (s *MatchService) RecordChat(ctx context.Context, matchID, userID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_chat (match_id, user_id, content) VALUES ($1, $2, $3)`,
		matchID, userID, content)
	if err != nil {
		return fmt.Errorf("recording chat: %w", err)
	}
	return nil
}

// ChatHistory returns a match's chat log in send order.
func (s *MatchService) ChatHistory(ctx context.Context, matchID string) ([]ChatMessage, error) {
	var msgs []ChatMessage
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT * FROM match_chat WHERE match_id = $1 ORDER BY created_at, id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("loading chat history: %w", err)
	}
	return msgs, nil
}

// ReplayFor returns the completed row plus its chat log. Only terminal matches
// have replays.
func (s *MatchService) ReplayFor(ctx context.Context, matchID string) (*Replay, error) {
	row, err := s.Row(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !row.Status.Terminal() {
		return nil, NewValidationError("match_id", "match is still in progress")
	}
	chat, err := s.ChatHistory(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return &Replay{Match: row, Chat: chat}, nil
}
