package models

// Difficulty buckets a challenge by how hard it is. "any" is only valid as a
// matchmaking filter, never on a challenge itself.
type Difficulty string

// Difficulty values.
const (
	DifficultyAny    Difficulty = "any"
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// ValidDifficultyFilter reports whether d is a valid matchmaking filter.
func ValidDifficultyFilter(d Difficulty) bool {
	switch d {
	case DifficultyAny, DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyExpert:
		return true
	}
	return false
}

// TestCase is a single hidden or visible test for a challenge.
// Weight must be >= 0; a zero-weight test still counts toward passed/total.
type TestCase struct {
	Input          any     `json:"input"`
	ExpectedOutput any     `json:"expected_output"`
	IsHidden       bool    `json:"is_hidden"`
	Weight         float64 `json:"weight"`
}

// Challenge is a coding problem both players solve during a match.
type Challenge struct {
	ID                   string            `json:"id"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	Difficulty           Difficulty        `json:"difficulty"`
	TimeLimitSeconds     int               `json:"time_limit_seconds"`
	TestCases            []TestCase        `json:"test_cases"`
	StarterCode          map[string]string `json:"starter_code"` // keyed by language
	OptimalSolution      string            `json:"optimal_solution,omitempty"`
	OptimalExecutionTime float64           `json:"optimal_execution_time,omitempty"` // millis
	Tags                 []string          `json:"tags,omitempty"`
}

// TotalWeight returns the sum of test case weights.
func (c *Challenge) TotalWeight() float64 {
	var total float64
	for _, tc := range c.TestCases {
		total += tc.Weight
	}
	return total
}

// PublicTestCases returns only the non-hidden test cases, for client display.
func (c *Challenge) PublicTestCases() []TestCase {
	out := make([]TestCase, 0, len(c.TestCases))
	for _, tc := range c.TestCases {
		if !tc.IsHidden {
			out = append(out, tc)
		}
	}
	return out
}
