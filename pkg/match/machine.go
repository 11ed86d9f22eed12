// Package match owns the ephemeral match state machine: lifecycle
// transitions, per-player code and readiness, TTL extension on activity, and
// the idempotent completion path. Only this package mutates match hashes.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeclash-io/codeclash/pkg/judging"
	"github.com/codeclash-io/codeclash/pkg/metrics"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/store"
)

// stateTTL bounds ephemeral match state; every mutation extends it.
const stateTTL = time.Hour

// completeLockTTL bounds how long a crashed completer can block the match.
const completeLockTTL = 2 * time.Minute

// Rating deltas applied on completion. Ratings never drop below zero.
const (
	RatingDeltaWin  = 25
	RatingDeltaLoss = -15
)

// stateStore is the ephemeral-store subset the machine uses.
type stateStore interface {
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashSet(ctx context.Context, key string, fields map[string]string) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	ExpireInSeconds(ctx context.Context, key string, seconds int) error
}

// Repository is the persistent-row side of the match lifecycle.
type Repository interface {
	Row(ctx context.Context, matchID string) (*models.Match, error)
	MarkActive(ctx context.Context, matchID string, startedAt time.Time) error
	SaveResult(ctx context.Context, matchID string, winnerID *string, p1Score, p2Score float64, completedAt time.Time) error
	Abandon(ctx context.Context, matchID string) error
	// ApplyRatingChange adjusts a user's rating (clamped at zero) and
	// win/loss/draw counters, returning the new rating.
	ApplyRatingChange(ctx context.Context, userID string, delta int, outcome string) (int, error)
}

// ChallengeLoader fetches the challenge a match was created with.
type ChallengeLoader interface {
	ChallengeByID(ctx context.Context, id string) (*models.Challenge, error)
}

// Judge scores both submissions and decides the winner.
type Judge interface {
	Judge(ctx context.Context, challenge *models.Challenge, p1, p2 judging.Submission) (*judging.Outcome, error)
}

// Leaderboard receives rating updates before the result event is emitted.
type Leaderboard interface {
	UpdateRating(ctx context.Context, userID string, rating int) error
}

// Emitter delivers lifecycle events to connected clients. It is looked up
// lazily so background services can complete matches without a hard
// dependency on the fan-out layer.
type Emitter interface {
	MatchStarted(ctx context.Context, state *models.MatchState)
	MatchCompleted(ctx context.Context, result *Result)
}

// RatingChange records one player's rating movement from a completed match.
type RatingChange struct {
	Delta     int `json:"delta"`
	NewRating int `json:"new_rating"`
}

// Result is the completed-match outcome returned by Complete. Outcome is nil
// when the result was loaded from the persisted row rather than judged in
// this call.
type Result struct {
	MatchID       string                  `json:"match_id"`
	WinnerID      string                  `json:"winner_id,omitempty"`
	Player1ID     string                  `json:"player1_id"`
	Player2ID     string                  `json:"player2_id"`
	Player1Score  float64                 `json:"player1_score"`
	Player2Score  float64                 `json:"player2_score"`
	Outcome       *judging.Outcome        `json:"outcome,omitempty"`
	RatingChanges map[string]RatingChange `json:"rating_changes,omitempty"`
	Cause         string                  `json:"cause,omitempty"`
	CompletedAt   time.Time               `json:"completed_at"`
}

// Machine drives ephemeral match state and the completion path.
type Machine struct {
	store      stateStore
	repo       Repository
	challenges ChallengeLoader
	judge      Judge
	board      Leaderboard

	emitter Emitter
}

// NewMachine creates a match state machine. The emitter is attached later via
// SetEmitter because the fan-out layer is constructed after the machine.
func NewMachine(s stateStore, repo Repository, challenges ChallengeLoader, judge Judge, board Leaderboard) *Machine {
	return &Machine{store: s, repo: repo, challenges: challenges, judge: judge, board: board}
}

// SetEmitter attaches the event emitter. Must be called before traffic.
func (m *Machine) SetEmitter(e Emitter) {
	m.emitter = e
}

// Create seeds the ephemeral state for a freshly created match row. Both
// players start in lobby with the challenge's starter code.
func (m *Machine) Create(ctx context.Context, matchID, challengeID, player1ID, player2ID, language, starterCode string) (*models.MatchState, error) {
	if player1ID == player2ID {
		return nil, fmt.Errorf("match players must differ")
	}
	state := &models.MatchState{
		ID:          matchID,
		ChallengeID: challengeID,
		Status:      models.MatchStatusLobby,
		CreatedAt:   time.Now().UnixMilli(),
		Player1:     models.PlayerState{UserID: player1ID, Code: starterCode, Language: language},
		Player2:     models.PlayerState{UserID: player2ID, Code: starterCode, Language: language},
	}
	key := store.MatchKey(matchID)
	if err := m.store.HashSet(ctx, key, encodeState(state)); err != nil {
		return nil, fmt.Errorf("seeding match state: %w", err)
	}
	if err := m.store.ExpireInSeconds(ctx, key, int(stateTTL.Seconds())); err != nil {
		return nil, fmt.Errorf("setting match ttl: %w", err)
	}
	return state, nil
}

// Get returns the ephemeral match state.
func (m *Machine) Get(ctx context.Context, matchID string) (*models.MatchState, error) {
	fields, err := m.store.HashGetAll(ctx, store.MatchKey(matchID))
	if err != nil {
		return nil, fmt.Errorf("loading match state: %w", err)
	}
	return decodeState(fields)
}

// SetReady marks a player ready. Ready is monotonic; repeating is a no-op.
// When both players are ready the match transitions lobby→active exactly
// once, guarded by an atomic start lock, and startedAt is set.
func (m *Machine) SetReady(ctx context.Context, matchID, userID string) (*models.MatchState, bool, error) {
	state, player, prefix, err := m.loadPlayer(ctx, matchID, userID)
	if err != nil {
		return nil, false, err
	}
	if state.Status.Terminal() {
		return nil, false, ErrMatchOver
	}

	key := store.MatchKey(matchID)
	if !player.Ready {
		if err := m.store.HashSet(ctx, key, map[string]string{prefix + ":ready": "true"}); err != nil {
			return nil, false, fmt.Errorf("setting ready: %w", err)
		}
		player.Ready = true
	}

	started := false
	if state.BothReady() && state.Status == models.MatchStatusLobby {
		// Both ready-setters race here; SetNX picks exactly one starter.
		won, err := m.store.SetNX(ctx, store.MatchStartLockKey(matchID), userID, stateTTL)
		if err != nil {
			return nil, false, fmt.Errorf("acquiring start lock: %w", err)
		}
		if won {
			startedAt := time.Now()
			err := m.store.HashSet(ctx, key, map[string]string{
				"status":     string(models.MatchStatusActive),
				"started_at": fmt.Sprintf("%d", startedAt.UnixMilli()),
			})
			if err != nil {
				return nil, false, fmt.Errorf("activating match: %w", err)
			}
			if err := m.repo.MarkActive(ctx, matchID, startedAt); err != nil {
				slog.Error("Persisting match start failed", "match_id", matchID, "error", err)
			}
			state.Status = models.MatchStatusActive
			state.StartedAt = startedAt.UnixMilli()
			started = true
			metrics.MatchesTotal.WithLabelValues(string(models.MatchStatusActive)).Inc()
			if m.emitter != nil {
				m.emitter.MatchStarted(ctx, state)
			}
		}
	}

	m.extendTTL(ctx, matchID)
	return state, started, nil
}

// UpdateCode stores a player's current code and cursor. Rejected once the
// match is terminal so late edits never reach the judging path.
func (m *Machine) UpdateCode(ctx context.Context, matchID, userID, code string, cursor models.CursorPosition) (*models.MatchState, error) {
	state, player, prefix, err := m.loadPlayer(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, ErrMatchOver
	}
	if player.Submitted {
		return nil, ErrMatchOver
	}

	err = m.store.HashSet(ctx, store.MatchKey(matchID), map[string]string{
		prefix + ":code":        code,
		prefix + ":cursor_line": fmt.Sprintf("%d", cursor.Line),
		prefix + ":cursor_col":  fmt.Sprintf("%d", cursor.Column),
	})
	if err != nil {
		return nil, fmt.Errorf("updating code: %w", err)
	}
	player.Code = code
	player.Cursor = cursor

	m.extendTTL(ctx, matchID)
	return state, nil
}

// Submit marks a player's code as final. Submitted is monotonic: a repeat
// submit keeps the original submittedAt. Returns whether both players have
// now submitted; the caller triggers completion when they have.
func (m *Machine) Submit(ctx context.Context, matchID, userID string) (*models.MatchState, bool, error) {
	state, player, prefix, err := m.loadPlayer(ctx, matchID, userID)
	if err != nil {
		return nil, false, err
	}
	if state.Status.Terminal() {
		return nil, false, ErrMatchOver
	}
	if state.Status != models.MatchStatusActive {
		return nil, false, ErrMatchNotActive
	}

	if !player.Submitted {
		submittedAt := time.Now().UnixMilli()
		err := m.store.HashSet(ctx, store.MatchKey(matchID), map[string]string{
			prefix + ":submitted":    "true",
			prefix + ":submitted_at": fmt.Sprintf("%d", submittedAt),
		})
		if err != nil {
			return nil, false, fmt.Errorf("recording submission: %w", err)
		}
		player.Submitted = true
		player.SubmittedAt = submittedAt
	}

	m.extendTTL(ctx, matchID)
	return state, state.BothSubmitted(), nil
}

// Complete judges and finalizes a match. It is idempotent: completion
// exclusivity is a one-shot store lock plus a persisted-result check, and any
// re-entrant or subsequent call returns the stored outcome without re-judging.
// The leaderboard is updated before the result event is emitted.
func (m *Machine) Complete(ctx context.Context, matchID, cause string) (*Result, error) {
	if stored, err := m.storedResult(ctx, matchID); err != nil || stored != nil {
		return stored, err
	}

	won, err := m.store.SetNX(ctx, store.MatchCompleteLockKey(matchID), cause, completeLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring completion lock: %w", err)
	}
	if !won {
		// Another completer got there first; surface its outcome if it has
		// landed, otherwise report the in-flight completion.
		if stored, err := m.storedResult(ctx, matchID); err != nil || stored != nil {
			return stored, err
		}
		return nil, ErrCompletionInProgress
	}

	result, err := m.judgeAndPersist(ctx, matchID, cause)
	if err != nil {
		// Release the lock so a retry can complete the match.
		_ = m.store.Del(ctx, store.MatchCompleteLockKey(matchID))
		return nil, err
	}

	metrics.MatchesTotal.WithLabelValues(string(models.MatchStatusCompleted)).Inc()
	if m.emitter != nil {
		m.emitter.MatchCompleted(ctx, result)
	}
	return result, nil
}

func (m *Machine) judgeAndPersist(ctx context.Context, matchID, cause string) (*Result, error) {
	state, err := m.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if state.Status == models.MatchStatusAbandoned {
		return nil, ErrMatchOver
	}

	challenge, err := m.challenges.ChallengeByID(ctx, state.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("loading challenge: %w", err)
	}

	outcome, err := m.judge.Judge(ctx, challenge,
		submission(&state.Player1), submission(&state.Player2))
	if err != nil {
		return nil, fmt.Errorf("judging match: %w", err)
	}

	completedAt := time.Now()
	var winnerID *string
	if outcome.WinnerID != "" {
		winnerID = &outcome.WinnerID
	}
	err = m.repo.SaveResult(ctx, matchID, winnerID,
		outcome.Player1.FinalScore, outcome.Player2.FinalScore, completedAt)
	if err != nil {
		return nil, fmt.Errorf("persisting result: %w", err)
	}

	changes, err := m.applyRatings(ctx, state, outcome.WinnerID)
	if err != nil {
		return nil, err
	}

	// Terminal marker on the ephemeral side; spectators may still read it
	// until the TTL runs out.
	err = m.store.HashSet(ctx, store.MatchKey(matchID), map[string]string{
		"status": string(models.MatchStatusCompleted),
	})
	if err != nil {
		slog.Error("Marking ephemeral match completed failed", "match_id", matchID, "error", err)
	}
	m.extendTTL(ctx, matchID)

	return &Result{
		MatchID:       matchID,
		WinnerID:      outcome.WinnerID,
		Player1ID:     state.Player1.UserID,
		Player2ID:     state.Player2.UserID,
		Player1Score:  outcome.Player1.FinalScore,
		Player2Score:  outcome.Player2.FinalScore,
		Outcome:       outcome,
		RatingChanges: changes,
		Cause:         cause,
		CompletedAt:   completedAt,
	}, nil
}

// applyRatings adjusts both players' ratings and counters and pushes the new
// ratings to the leaderboard. A tie moves nobody.
func (m *Machine) applyRatings(ctx context.Context, state *models.MatchState, winnerID string) (map[string]RatingChange, error) {
	changes := make(map[string]RatingChange, 2)
	for _, p := range []*models.PlayerState{&state.Player1, &state.Player2} {
		delta, outcome := 0, "draw"
		switch winnerID {
		case "":
		case p.UserID:
			delta, outcome = RatingDeltaWin, "win"
		default:
			delta, outcome = RatingDeltaLoss, "loss"
		}

		newRating, err := m.repo.ApplyRatingChange(ctx, p.UserID, delta, outcome)
		if err != nil {
			return nil, fmt.Errorf("applying rating change for %s: %w", p.UserID, err)
		}
		if err := m.board.UpdateRating(ctx, p.UserID, newRating); err != nil {
			slog.Error("Leaderboard update failed", "user_id", p.UserID, "error", err)
		}
		changes[p.UserID] = RatingChange{Delta: delta, NewRating: newRating}
	}
	return changes, nil
}

// Abandon marks a match abandoned. Completed matches cannot be abandoned;
// re-abandoning is a no-op.
func (m *Machine) Abandon(ctx context.Context, matchID string) error {
	state, err := m.Get(ctx, matchID)
	if err != nil {
		return err
	}
	switch state.Status {
	case models.MatchStatusAbandoned:
		return nil
	case models.MatchStatusCompleted:
		return ErrMatchOver
	}

	err = m.store.HashSet(ctx, store.MatchKey(matchID), map[string]string{
		"status": string(models.MatchStatusAbandoned),
	})
	if err != nil {
		return fmt.Errorf("abandoning match state: %w", err)
	}
	if err := m.repo.Abandon(ctx, matchID); err != nil {
		return fmt.Errorf("abandoning match row: %w", err)
	}
	metrics.MatchesTotal.WithLabelValues(string(models.MatchStatusAbandoned)).Inc()
	m.extendTTL(ctx, matchID)
	return nil
}

// storedResult returns the persisted outcome when the row is already
// completed, nil otherwise.
func (m *Machine) storedResult(ctx context.Context, matchID string) (*Result, error) {
	row, err := m.repo.Row(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("loading match row: %w", err)
	}
	if row.Status != models.MatchStatusCompleted {
		return nil, nil
	}

	result := &Result{
		MatchID:   matchID,
		Player1ID: row.Player1ID,
		Player2ID: row.Player2ID,
	}
	if row.WinnerID != nil {
		result.WinnerID = *row.WinnerID
	}
	if row.Player1Score != nil {
		result.Player1Score = *row.Player1Score
	}
	if row.Player2Score != nil {
		result.Player2Score = *row.Player2Score
	}
	if row.CompletedAt != nil {
		result.CompletedAt = *row.CompletedAt
	}
	return result, nil
}

func (m *Machine) loadPlayer(ctx context.Context, matchID, userID string) (*models.MatchState, *models.PlayerState, string, error) {
	state, err := m.Get(ctx, matchID)
	if err != nil {
		return nil, nil, "", err
	}
	player := state.PlayerByID(userID)
	if player == nil {
		return nil, nil, "", ErrNotParticipant
	}
	prefix := "p1"
	if player == &state.Player2 {
		prefix = "p2"
	}
	return state, player, prefix, nil
}

func (m *Machine) extendTTL(ctx context.Context, matchID string) {
	if err := m.store.ExpireInSeconds(ctx, store.MatchKey(matchID), int(stateTTL.Seconds())); err != nil {
		slog.Warn("Extending match TTL failed", "match_id", matchID, "error", err)
	}
}

func submission(p *models.PlayerState) judging.Submission {
	return judging.Submission{
		UserID:      p.UserID,
		Code:        p.Code,
		Language:    p.Language,
		SubmittedAt: p.SubmittedAt,
	}
}
