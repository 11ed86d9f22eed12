package models

import "time"

// Analysis feedback categories. The categorized summary endpoint reports over
// exactly this set.
const (
	CategoryTimeComplexity  = "time_complexity"
	CategorySpaceComplexity = "space_complexity"
	CategoryReadability     = "readability"
	CategoryPatterns        = "patterns"
)

// AnalysisCategories lists the fixed category set in report order.
var AnalysisCategories = []string{
	CategoryTimeComplexity,
	CategorySpaceComplexity,
	CategoryReadability,
	CategoryPatterns,
}

// ComplexityFinding describes estimated time/space complexity of a solution.
type ComplexityFinding struct {
	Time        string `json:"time"`
	Space       string `json:"space"`
	Explanation string `json:"explanation,omitempty"`
}

// ReadabilityFinding scores how readable a solution is, 0-10.
type ReadabilityFinding struct {
	Score    float64  `json:"score"`
	Comments []string `json:"comments,omitempty"`
}

// ApproachFinding summarizes the algorithmic approach taken.
type ApproachFinding struct {
	Summary  string   `json:"summary"`
	Patterns []string `json:"patterns,omitempty"`
}

// BugFinding is a single suspected bug in the submitted code.
type BugFinding struct {
	Line        int    `json:"line,omitempty"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

// MatchAnalysis is the persistent per-match per-user coaching record.
// Suggestions always holds between 3 and 5 non-empty entries.
type MatchAnalysis struct {
	ID          string             `db:"id" json:"id"`
	MatchID     string             `db:"match_id" json:"match_id"`
	UserID      string             `db:"user_id" json:"user_id"`
	Complexity  ComplexityFinding  `json:"complexity"`
	Readability ReadabilityFinding `json:"readability"`
	Approach    ApproachFinding    `json:"approach"`
	Suggestions []string           `json:"suggestions"`
	Bugs        []BugFinding       `json:"bugs,omitempty"`
	HintsUsed   int                `db:"hints_used" json:"hints_used"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
}

// Hint is a persistent record of an AI (or fallback) hint issued mid-match.
type Hint struct {
	ID        string    `db:"id" json:"id"`
	MatchID   string    `db:"match_id" json:"match_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Level     int       `db:"level" json:"level"` // 1 = nudge .. 3 = near-solution
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WeaknessPattern is one recurring finding in a user's weakness profile.
type WeaknessPattern struct {
	Category  string `json:"category"`
	Pattern   string `json:"pattern"`
	Frequency int    `json:"frequency"`
}

// WeaknessProfile aggregates recurring analysis findings per user. It is not
// surfaced until at least MinAnalysesForWeakness analyses exist.
type WeaknessProfile struct {
	UserID        string            `json:"user_id"`
	AnalysisCount int               `json:"analysis_count"`
	TopPatterns   []WeaknessPattern `json:"top_patterns"` // at most 3, by frequency
}

// MinAnalysesForWeakness is the minimum number of analysed matches before a
// weakness profile is exposed.
const MinAnalysesForWeakness = 5
