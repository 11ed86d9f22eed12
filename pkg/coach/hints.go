package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// maxHintLevel caps hint escalation per player per match.
const maxHintLevel = 3

// Hint requests are rate limited per user across all matches.
const (
	hintLimit  = 1
	hintWindow = 30 * time.Second
)

// ErrHintsExhausted is returned once a player has used every hint level.
var ErrHintsExhausted = errors.New("all hint levels used for this match")

// ErrHintRateLimited is returned when a hint request arrives inside the
// cooldown window.
var ErrHintRateLimited = errors.New("hint requests are rate limited")

// HintStatus reports how far into the hint ladder a player is.
type HintStatus struct {
	HintsUsed int `json:"hints_used"`
	NextLevel int `json:"next_level,omitempty"` // 0 when exhausted
	Remaining int `json:"remaining"`
}

// RequestHint issues the next hint level for a player in a match. Levels
// escalate 1..3 and never repeat; requests are rate limited per user. A
// provider failure falls back to a canned hint so the request never dangles.
func (s *Service) RequestHint(ctx context.Context, matchID, userID, challengeTitle, code string) (*models.Hint, error) {
	used, err := s.hintCount(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	if used >= maxHintLevel {
		return nil, ErrHintsExhausted
	}

	if s.limiter != nil {
		decision := s.limiter.Check(ctx, userID, "hint", hintLimit, hintWindow)
		if !decision.Allowed {
			return nil, ErrHintRateLimited
		}
	}

	level := used + 1
	content := ""
	if s.provider != nil {
		content, err = s.provider.GenerateHint(ctx, HintRequest{Challenge: challengeTitle, Code: code, Level: level})
		if err != nil {
			slog.Warn("Hint provider failed, using fallback", "match_id", matchID, "level", level, "error", err)
			content = ""
		}
	}
	if content == "" {
		content = fallbackHint(level, challengeTitle)
	}

	hint := &models.Hint{
		ID:        uuid.New().String(),
		MatchID:   matchID,
		UserID:    userID,
		Level:     level,
		Content:   content,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hints (id, match_id, user_id, level, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		hint.ID, hint.MatchID, hint.UserID, hint.Level, hint.Content, hint.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("saving hint: %w", err)
	}
	return hint, nil
}

// Status reports hint usage for a player in a match.
func (s *Service) Status(ctx context.Context, matchID, userID string) (*HintStatus, error) {
	used, err := s.hintCount(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	status := &HintStatus{HintsUsed: used, Remaining: maxHintLevel - used}
	if used < maxHintLevel {
		status.NextLevel = used + 1
	}
	return status, nil
}

// Hints lists the hints a player has received in a match, in issue order.
func (s *Service) Hints(ctx context.Context, matchID, userID string) ([]models.Hint, error) {
	var hints []models.Hint
	err := s.db.SelectContext(ctx, &hints,
		`SELECT * FROM hints WHERE match_id = $1 AND user_id = $2 ORDER BY created_at, level`,
		matchID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading hints: %w", err)
	}
	return hints, nil
}

func (s *Service) hintCount(ctx context.Context, matchID, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM hints WHERE match_id = $1 AND user_id = $2`, matchID, userID)
	if err != nil {
		return 0, fmt.Errorf("counting hints: %w", err)
	}
	return count, nil
}
