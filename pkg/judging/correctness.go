package judging

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// TestResult is the outcome of one test case execution.
type TestResult struct {
	Input           any     `json:"input"`
	Expected        any     `json:"expected"`
	Actual          string  `json:"actual"`
	Passed          bool    `json:"passed"`
	Weight          float64 `json:"weight"`
	ExitCode        int     `json:"exit_code"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	MemoryBytes     int64   `json:"memory_bytes"`
	TimedOut        bool    `json:"timed_out"`
	Stderr          string  `json:"stderr,omitempty"`
}

// CorrectnessReport is the weighted correctness breakdown for one player.
type CorrectnessReport struct {
	Score        float64      `json:"score"` // 0..10
	PassedTests  int          `json:"passed_tests"`
	TotalTests   int          `json:"total_tests"`
	PassedWeight float64      `json:"passed_weight"`
	TotalWeight  float64      `json:"total_weight"`
	Results      []TestResult `json:"results"`
}

// runCorrectness executes every test case in a fresh execution: input
// serialized as JSON on stdin, pass iff the output deep-equals the expected
// value, exit code is 0, and the run did not time out.
func (e *Engine) runCorrectness(ctx context.Context, challenge *models.Challenge, sub Submission) (*CorrectnessReport, error) {
	report := &CorrectnessReport{
		TotalTests:  len(challenge.TestCases),
		TotalWeight: challenge.TotalWeight(),
		Results:     make([]TestResult, 0, len(challenge.TestCases)),
	}

	timeoutMs := challenge.TimeLimitSeconds * 1000
	if timeoutMs <= 0 || timeoutMs > models.MaxExecutionTimeoutMs {
		timeoutMs = models.DefaultExecutionTimeoutMs
	}

	for _, tc := range challenge.TestCases {
		input, err := json.Marshal(tc.Input)
		if err != nil {
			return nil, err
		}

		result, err := e.backend.Execute(ctx, models.ExecutionRequest{
			Language:  sub.Language,
			Code:      sub.Code,
			TestInput: string(input),
			TimeoutMs: timeoutMs,
		})
		if err != nil {
			return nil, err
		}

		passed := result.ExitCode == 0 && !result.TimedOut &&
			outputMatches(result.Stdout, tc.ExpectedOutput)

		report.Results = append(report.Results, TestResult{
			Input:           tc.Input,
			Expected:        tc.ExpectedOutput,
			Actual:          strings.TrimSpace(result.Stdout),
			Passed:          passed,
			Weight:          tc.Weight,
			ExitCode:        result.ExitCode,
			ExecutionTimeMs: result.ExecutionTimeMs,
			MemoryBytes:     result.MemoryBytes,
			TimedOut:        result.TimedOut,
			Stderr:          result.Stderr,
		})
		if passed {
			report.PassedTests++
			report.PassedWeight += tc.Weight
		}
	}

	report.Score = correctnessScore(report)
	return report, nil
}

// correctnessScore is passedWeight/totalWeight scaled to 0..10. An all-zero
// weight challenge falls back to the pass-count ratio so zero-weight tests
// still count.
func correctnessScore(r *CorrectnessReport) float64 {
	if r.TotalWeight > 0 {
		return r.PassedWeight / r.TotalWeight * 10
	}
	if r.TotalTests > 0 {
		return float64(r.PassedTests) / float64(r.TotalTests) * 10
	}
	return 0
}

// OutputMatches reports whether candidate stdout satisfies the expected
// value under the same rules the judging pipeline uses. Exposed for the ad
// hoc execution endpoint.
func OutputMatches(stdout string, expected any) bool {
	return outputMatches(stdout, expected)
}

// outputMatches compares candidate stdout against the expected value: parse
// the whole output as JSON, then the last non-empty line, then fall back to a
// trimmed string comparison.
func outputMatches(stdout string, expected any) bool {
	trimmed := strings.TrimSpace(stdout)

	if actual, ok := parseJSON(trimmed); ok {
		return jsonEqual(actual, expected)
	}
	if line := lastNonEmptyLine(trimmed); line != "" {
		if actual, ok := parseJSON(line); ok {
			return jsonEqual(actual, expected)
		}
	}
	return trimmed == expectedString(expected)
}

func parseJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// jsonEqual deep-compares after round-tripping expected through JSON, so
// typed values (int vs float64) compare on their wire form.
func jsonEqual(actual, expected any) bool {
	raw, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return false
	}
	return reflect.DeepEqual(actual, normalized)
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// expectedString renders the expected value the way a plain print would, for
// the final string-comparison fallback.
func expectedString(expected any) string {
	if s, ok := expected.(string); ok {
		return s
	}
	raw, err := json.Marshal(expected)
	if err != nil {
		return ""
	}
	return string(raw)
}
