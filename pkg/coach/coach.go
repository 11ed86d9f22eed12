package coach

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/ratelimit"
	"github.com/codeclash-io/codeclash/pkg/services"
)

// History pagination bounds.
const (
	MinPageSize = 1
	MaxPageSize = 100
)

// trendWindow caps how many recent analyses feed the trend series.
const trendWindow = 10

// Suggestion count bounds on every persisted analysis.
const (
	minSuggestions = 3
	maxSuggestions = 5
)

// ErrInsufficientAnalyses is returned when a weakness profile is requested
// before enough matches have been analysed.
var ErrInsufficientAnalyses = errors.New("not enough analysed matches for a weakness profile")

// CategorySummary groups findings for one fixed analysis category.
type CategorySummary struct {
	Category string   `json:"category"`
	Count    int      `json:"count"`
	Findings []string `json:"findings"`
}

// TrendPoint is one analysed match in a category's trend series.
type TrendPoint struct {
	MatchID   string    `json:"match_id"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Trend is a category's series over the most recent analysed matches,
// oldest first.
type Trend struct {
	Category string       `json:"category"`
	Points   []TrendPoint `json:"points"`
}

// analysisRow is the sqlx scan target for match_analyses.
type analysisRow struct {
	ID          string          `db:"id"`
	MatchID     string          `db:"match_id"`
	UserID      string          `db:"user_id"`
	Complexity  json.RawMessage `db:"complexity"`
	Readability json.RawMessage `db:"readability"`
	Approach    json.RawMessage `db:"approach"`
	Suggestions json.RawMessage `db:"suggestions"`
	Bugs        json.RawMessage `db:"bugs"`
	HintsUsed   int             `db:"hints_used"`
	CreatedAt   time.Time       `db:"created_at"`
}

// Service persists and aggregates coaching data.
type Service struct {
	db       *sqlx.DB
	provider Provider
	limiter  *ratelimit.Limiter
}

// NewService creates the coaching service. provider may be nil; every path
// then uses its deterministic fallback.
func NewService(db *sqlx.DB, provider Provider, limiter *ratelimit.Limiter) *Service {
	return &Service{db: db, provider: provider, limiter: limiter}
}

// AnalyzeMatch generates and persists the analysis for one player's final
// code. A provider failure falls back to the deterministic analysis so a
// completed match always gets a row.
func (s *Service) AnalyzeMatch(ctx context.Context, matchID, userID, code, language, challengeTitle string) (*models.MatchAnalysis, error) {
	var resp *AnalysisResponse
	if s.provider != nil {
		var err error
		resp, err = s.provider.AnalyzeCode(ctx, AnalysisRequest{Code: code, Language: language, Challenge: challengeTitle})
		if err != nil {
			slog.Warn("Analysis provider failed, using fallback", "match_id", matchID, "error", err)
			resp = nil
		}
	}
	if resp == nil || !validSuggestions(resp.Suggestions) {
		resp = fallbackAnalysis(code, language)
	}

	hintsUsed, err := s.hintCount(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}

	analysis := &models.MatchAnalysis{
		ID:          uuid.New().String(),
		MatchID:     matchID,
		UserID:      userID,
		Complexity:  resp.Complexity,
		Readability: resp.Readability,
		Approach:    resp.Approach,
		Suggestions: resp.Suggestions,
		Bugs:        resp.Bugs,
		HintsUsed:   hintsUsed,
		CreatedAt:   time.Now(),
	}
	if err := s.SaveAnalysis(ctx, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

// SaveAnalysis upserts an analysis row. Exactly one row exists per
// (match, user); a re-analysis replaces the previous findings.
func (s *Service) SaveAnalysis(ctx context.Context, a *models.MatchAnalysis) error {
	if !validSuggestions(a.Suggestions) {
		return services.NewValidationError("suggestions",
			fmt.Sprintf("must contain %d to %d non-empty entries", minSuggestions, maxSuggestions))
	}

	complexity, readability, approach, suggestions, bugs, err := marshalFindings(a)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO match_analyses (id, match_id, user_id, complexity, readability, approach, suggestions, bugs, hints_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (match_id, user_id) DO UPDATE
		 SET complexity = EXCLUDED.complexity, readability = EXCLUDED.readability,
		     approach = EXCLUDED.approach, suggestions = EXCLUDED.suggestions,
		     bugs = EXCLUDED.bugs, hints_used = EXCLUDED.hints_used`,
		a.ID, a.MatchID, a.UserID, string(complexity), string(readability), string(approach),
		string(suggestions), string(bugs), a.HintsUsed, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	return nil
}

// AnalysisFor fetches the analysis for one player in one match.
func (s *Service) AnalysisFor(ctx context.Context, matchID, userID string) (*models.MatchAnalysis, error) {
	var row analysisRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM match_analyses WHERE match_id = $1 AND user_id = $2`, matchID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("analysis for match %s: %w", matchID, services.ErrNotFound)
		}
		return nil, fmt.Errorf("loading analysis: %w", err)
	}
	return row.toModel()
}

// History returns a user's analyses newest first, with the true total count.
// page starts at 1; pageSize is capped at MaxPageSize.
func (s *Service) History(ctx context.Context, userID string, page, pageSize int) ([]models.MatchAnalysis, int, error) {
	if page < 1 {
		return nil, 0, services.NewValidationError("page", "must be at least 1")
	}
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return nil, 0, services.NewValidationError("page_size",
			fmt.Sprintf("must be between %d and %d", MinPageSize, MaxPageSize))
	}

	var total int
	err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM match_analyses WHERE user_id = $1`, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("counting analyses: %w", err)
	}

	var rows []analysisRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT * FROM match_analyses WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("loading analysis history: %w", err)
	}

	out := make([]models.MatchAnalysis, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *a)
	}
	return out, total, nil
}

// Timeline returns every analysis for a user in ascending time order.
func (s *Service) Timeline(ctx context.Context, userID string) ([]models.MatchAnalysis, error) {
	var rows []analysisRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM match_analyses WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("loading analysis timeline: %w", err)
	}

	out := make([]models.MatchAnalysis, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// Summary reports findings grouped over exactly the fixed category set, in
// report order. Categories with no findings still appear with a zero count.
func (s *Service) Summary(ctx context.Context, userID string) ([]CategorySummary, error) {
	analyses, err := s.Timeline(ctx, userID)
	if err != nil {
		return nil, err
	}

	findings := map[string][]string{}
	for _, a := range analyses {
		if a.Complexity.Time != "" {
			findings[models.CategoryTimeComplexity] = append(findings[models.CategoryTimeComplexity], a.Complexity.Time)
		}
		if a.Complexity.Space != "" {
			findings[models.CategorySpaceComplexity] = append(findings[models.CategorySpaceComplexity], a.Complexity.Space)
		}
		findings[models.CategoryReadability] = append(findings[models.CategoryReadability],
			fmt.Sprintf("score %.1f", a.Readability.Score))
		findings[models.CategoryPatterns] = append(findings[models.CategoryPatterns], a.Approach.Patterns...)
	}

	out := make([]CategorySummary, 0, len(models.AnalysisCategories))
	for _, cat := range models.AnalysisCategories {
		out = append(out, CategorySummary{
			Category: cat,
			Count:    len(findings[cat]),
			Findings: findings[cat],
		})
	}
	return out, nil
}

// Trends returns per-category series over at most the last ten analysed
// matches, oldest first within each series.
func (s *Service) Trends(ctx context.Context, userID string) ([]Trend, error) {
	var rows []analysisRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM match_analyses WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, trendWindow)
	if err != nil {
		return nil, fmt.Errorf("loading trend window: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	series := map[string][]TrendPoint{}
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		point := func(value string) TrendPoint {
			return TrendPoint{MatchID: a.MatchID, Value: value, CreatedAt: a.CreatedAt}
		}
		if a.Complexity.Time != "" {
			series[models.CategoryTimeComplexity] = append(series[models.CategoryTimeComplexity], point(a.Complexity.Time))
		}
		if a.Complexity.Space != "" {
			series[models.CategorySpaceComplexity] = append(series[models.CategorySpaceComplexity], point(a.Complexity.Space))
		}
		series[models.CategoryReadability] = append(series[models.CategoryReadability],
			point(fmt.Sprintf("%.1f", a.Readability.Score)))
		for _, p := range a.Approach.Patterns {
			series[models.CategoryPatterns] = append(series[models.CategoryPatterns], point(p))
		}
	}

	out := make([]Trend, 0, len(models.AnalysisCategories))
	for _, cat := range models.AnalysisCategories {
		out = append(out, Trend{Category: cat, Points: series[cat]})
	}
	return out, nil
}

// WeaknessProfile aggregates recurring findings into the top three patterns by
// frequency. Withheld until the user has at least five analysed matches.
func (s *Service) WeaknessProfile(ctx context.Context, userID string) (*models.WeaknessProfile, error) {
	analyses, err := s.Timeline(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(analyses) < models.MinAnalysesForWeakness {
		return nil, fmt.Errorf("%d of %d analyses: %w",
			len(analyses), models.MinAnalysesForWeakness, ErrInsufficientAnalyses)
	}

	type key struct{ category, pattern string }
	counts := map[key]int{}
	for _, a := range analyses {
		for _, p := range a.Approach.Patterns {
			counts[key{models.CategoryPatterns, p}]++
		}
		if a.Complexity.Time != "" && a.Complexity.Time != "O(1)" && a.Complexity.Time != "O(n)" {
			counts[key{models.CategoryTimeComplexity, a.Complexity.Time}]++
		}
		if a.Readability.Score < 5 {
			counts[key{models.CategoryReadability, "low readability"}]++
		}
		for _, b := range a.Bugs {
			counts[key{models.CategoryPatterns, b.Description}]++
		}
	}

	patterns := make([]models.WeaknessPattern, 0, len(counts))
	for k, n := range counts {
		patterns = append(patterns, models.WeaknessPattern{Category: k.category, Pattern: k.pattern, Frequency: n})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Frequency != patterns[j].Frequency {
			return patterns[i].Frequency > patterns[j].Frequency
		}
		return patterns[i].Pattern < patterns[j].Pattern
	})
	if len(patterns) > 3 {
		patterns = patterns[:3]
	}

	return &models.WeaknessProfile{
		UserID:        userID,
		AnalysisCount: len(analyses),
		TopPatterns:   patterns,
	}, nil
}

func validSuggestions(suggestions []string) bool {
	if len(suggestions) < minSuggestions || len(suggestions) > maxSuggestions {
		return false
	}
	for _, s := range suggestions {
		if s == "" {
			return false
		}
	}
	return true
}

func marshalFindings(a *models.MatchAnalysis) (complexity, readability, approach, suggestions, bugs []byte, err error) {
	if complexity, err = json.Marshal(a.Complexity); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("encoding complexity: %w", err)
	}
	if readability, err = json.Marshal(a.Readability); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("encoding readability: %w", err)
	}
	if approach, err = json.Marshal(a.Approach); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("encoding approach: %w", err)
	}
	if suggestions, err = json.Marshal(a.Suggestions); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("encoding suggestions: %w", err)
	}
	if bugs, err = json.Marshal(a.Bugs); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("encoding bugs: %w", err)
	}
	return complexity, readability, approach, suggestions, bugs, nil
}

func (r *analysisRow) toModel() (*models.MatchAnalysis, error) {
	a := &models.MatchAnalysis{
		ID:        r.ID,
		MatchID:   r.MatchID,
		UserID:    r.UserID,
		HintsUsed: r.HintsUsed,
		CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal(r.Complexity, &a.Complexity); err != nil {
		return nil, fmt.Errorf("decoding complexity for analysis %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Readability, &a.Readability); err != nil {
		return nil, fmt.Errorf("decoding readability for analysis %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Approach, &a.Approach); err != nil {
		return nil, fmt.Errorf("decoding approach for analysis %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Suggestions, &a.Suggestions); err != nil {
		return nil, fmt.Errorf("decoding suggestions for analysis %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Bugs, &a.Bugs); err != nil {
		return nil, fmt.Errorf("decoding bugs for analysis %s: %w", r.ID, err)
	}
	return a, nil
}
