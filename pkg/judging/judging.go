// Package judging scores both players' submissions after a match: weighted
// correctness over the challenge test cases, efficiency against time and
// memory ladders, a quality score (AI provider with a deterministic
// fallback), a creativity heuristic, and winner determination with strict
// tie-breakers.
package judging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// Backend runs one submission against one test input. Both the local sandbox
// executor and the cloud judge satisfy it.
type Backend interface {
	Execute(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error)
}

// QualityProvider is the optional AI capability for quality scoring. A nil
// provider or a provider error falls back to the deterministic heuristic.
type QualityProvider interface {
	ScoreQuality(ctx context.Context, code, language string) (QualityScore, error)
}

// Submission is one player's final code at judging time.
type Submission struct {
	UserID      string
	Code        string
	Language    string
	SubmittedAt int64 // unix millis, 0 = unknown (auto-complete)
}

// PlayerScore is the full scoring breakdown for one player.
type PlayerScore struct {
	UserID      string            `json:"user_id"`
	Correctness CorrectnessReport `json:"correctness"`
	Efficiency  float64           `json:"efficiency"`
	Quality     QualityScore      `json:"quality"`
	Creativity  float64           `json:"creativity"`
	FinalScore  float64           `json:"final_score"` // 0..1000
	Feedback    string            `json:"feedback"`
}

// Outcome is the judged result of a match. WinnerID is empty on a tie.
type Outcome struct {
	WinnerID string      `json:"winner_id,omitempty"`
	Player1  PlayerScore `json:"player1"`
	Player2  PlayerScore `json:"player2"`
}

// Final score weights.
const (
	weightCorrectness = 0.4
	weightEfficiency  = 0.3
	weightQuality     = 0.2
	weightCreativity  = 0.1
)

// Engine runs the judging pipeline.
type Engine struct {
	backend Backend
	quality QualityProvider // may be nil
}

// NewEngine creates a judging engine. quality may be nil, in which case the
// deterministic heuristic is always used.
func NewEngine(backend Backend, quality QualityProvider) *Engine {
	return &Engine{backend: backend, quality: quality}
}

// Judge scores both submissions against the challenge and decides the winner.
func (e *Engine) Judge(ctx context.Context, challenge *models.Challenge, p1, p2 Submission) (*Outcome, error) {
	score1, err := e.scorePlayer(ctx, challenge, p1)
	if err != nil {
		return nil, fmt.Errorf("judging player %s: %w", p1.UserID, err)
	}
	score2, err := e.scorePlayer(ctx, challenge, p2)
	if err != nil {
		return nil, fmt.Errorf("judging player %s: %w", p2.UserID, err)
	}

	winnerID := decideWinner(p1, score1, p2, score2)

	score1.Feedback = feedback(score1, winnerID, p1.UserID)
	score2.Feedback = feedback(score2, winnerID, p2.UserID)

	return &Outcome{WinnerID: winnerID, Player1: *score1, Player2: *score2}, nil
}

func (e *Engine) scorePlayer(ctx context.Context, challenge *models.Challenge, sub Submission) (*PlayerScore, error) {
	correctness, err := e.runCorrectness(ctx, challenge, sub)
	if err != nil {
		return nil, err
	}

	score := &PlayerScore{
		UserID:      sub.UserID,
		Correctness: *correctness,
		Efficiency:  efficiencyScore(correctness, challenge.OptimalExecutionTime),
		Quality:     e.qualityScore(ctx, sub),
		Creativity:  creativityScore(sub.Code, correctness.PassedTests),
	}
	score.FinalScore = 100 * (weightCorrectness*correctness.Score +
		weightEfficiency*score.Efficiency +
		weightQuality*score.Quality.Overall +
		weightCreativity*score.Creativity)
	return score, nil
}

func (e *Engine) qualityScore(ctx context.Context, sub Submission) QualityScore {
	if e.quality != nil {
		qs, err := e.quality.ScoreQuality(ctx, sub.Code, sub.Language)
		if err == nil {
			return qs
		}
		slog.Warn("Quality provider failed, using heuristic", "user_id", sub.UserID, "error", err)
	}
	return heuristicQuality(sub.Code)
}

// decideWinner applies the strict priority ladder: zero passes on both sides
// ties; more passes wins; equal passes with both submission times known goes
// to the earlier submitter; otherwise the higher final score wins; equal
// scores tie.
func decideWinner(p1 Submission, s1 *PlayerScore, p2 Submission, s2 *PlayerScore) string {
	if s1.Correctness.PassedTests == 0 && s2.Correctness.PassedTests == 0 {
		return ""
	}
	if s1.Correctness.PassedTests != s2.Correctness.PassedTests {
		if s1.Correctness.PassedTests > s2.Correctness.PassedTests {
			return p1.UserID
		}
		return p2.UserID
	}
	if p1.SubmittedAt > 0 && p2.SubmittedAt > 0 && p1.SubmittedAt != p2.SubmittedAt {
		if p1.SubmittedAt < p2.SubmittedAt {
			return p1.UserID
		}
		return p2.UserID
	}
	if s1.FinalScore != s2.FinalScore {
		if s1.FinalScore > s2.FinalScore {
			return p1.UserID
		}
		return p2.UserID
	}
	return ""
}
