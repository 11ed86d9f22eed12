// Package models defines the core domain types shared across the arena
// backend: match state, challenges, executions, analyses, and users.
package models

import "time"

// MatchStatus represents the lifecycle state of a match.
type MatchStatus string

// Match lifecycle states. Completed and abandoned are terminal.
const (
	MatchStatusWaiting   MatchStatus = "waiting"
	MatchStatusLobby     MatchStatus = "lobby"
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusAbandoned MatchStatus = "abandoned"
)

// Terminal reports whether the status admits no further mutations.
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusCompleted || s == MatchStatusAbandoned
}

// CursorPosition is an editor cursor location.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PlayerState holds the per-player portion of ephemeral match state.
// Ready and Submitted are monotonic: they transition false→true only.
type PlayerState struct {
	UserID      string         `json:"user_id"`
	Code        string         `json:"code"`
	Cursor      CursorPosition `json:"cursor"`
	Language    string         `json:"language"`
	Ready       bool           `json:"ready"`
	Submitted   bool           `json:"submitted"`
	SubmittedAt int64          `json:"submitted_at,omitempty"` // unix millis, 0 = not submitted
}

// MatchState is the ephemeral match record owned by the match state machine.
// It lives in the state store under a 1-hour TTL that is extended on activity.
type MatchState struct {
	ID          string      `json:"id"`
	ChallengeID string      `json:"challenge_id"`
	Status      MatchStatus `json:"status"`
	Player1     PlayerState `json:"player1"`
	Player2     PlayerState `json:"player2"`
	StartedAt   int64       `json:"started_at,omitempty"` // unix millis, set once at lobby→active
	CreatedAt   int64       `json:"created_at"`
}

// PlayerByID returns the player state for the given user, or nil if the user
// is not a participant.
func (m *MatchState) PlayerByID(userID string) *PlayerState {
	switch userID {
	case m.Player1.UserID:
		return &m.Player1
	case m.Player2.UserID:
		return &m.Player2
	}
	return nil
}

// OpponentID returns the other participant's user ID, or "" if userID is not
// a participant.
func (m *MatchState) OpponentID(userID string) string {
	switch userID {
	case m.Player1.UserID:
		return m.Player2.UserID
	case m.Player2.UserID:
		return m.Player1.UserID
	}
	return ""
}

// BothReady reports whether both players have readied up.
func (m *MatchState) BothReady() bool {
	return m.Player1.Ready && m.Player2.Ready
}

// BothSubmitted reports whether both players have submitted.
func (m *MatchState) BothSubmitted() bool {
	return m.Player1.Submitted && m.Player2.Submitted
}

// Match is the persistent match row, the source of truth for completed
// history. Its StartedAt overrides the ephemeral value on reads.
type Match struct {
	ID           string      `db:"id" json:"id"`
	ChallengeID  string      `db:"challenge_id" json:"challenge_id"`
	Player1ID    string      `db:"player1_id" json:"player1_id"`
	Player2ID    string      `db:"player2_id" json:"player2_id"`
	WinnerID     *string     `db:"winner_id" json:"winner_id,omitempty"`
	Player1Score *float64    `db:"player1_score" json:"player1_score,omitempty"`
	Player2Score *float64    `db:"player2_score" json:"player2_score,omitempty"`
	Status       MatchStatus `db:"status" json:"status"`
	StartedAt    *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}
