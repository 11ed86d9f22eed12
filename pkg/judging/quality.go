package judging

import (
	"regexp"
	"strings"
)

// QualityScore is the 0..10 code quality breakdown. Overall is the mean of
// the four sub-scores.
type QualityScore struct {
	Readability   float64 `json:"readability"`
	Structure     float64 `json:"structure"`
	Robustness    float64 `json:"robustness"`
	Documentation float64 `json:"documentation"`
	Overall       float64 `json:"overall"`
}

// Minimal-code thresholds: below either, every sub-score is zero.
const (
	minCodeLength = 20
	minCodeLines  = 2
)

var (
	identifierRe = regexp.MustCompile(`\b[a-z][a-zA-Z0-9]{3,}\b`)
	functionRe   = regexp.MustCompile(`\bfunc\b|\bfunction\b|\bdef\b|=>`)
	looseEqRe    = regexp.MustCompile(`[^=!<>]==[^=]`)
	nullGuardRe  = regexp.MustCompile(`(?i)\bif\b[^\n]*(nil|null|none|undefined)`)
	tryCatchRe   = regexp.MustCompile(`\btry\b|\brecover\(\)|\bexcept\b|\bcatch\b`)
	commentRe    = regexp.MustCompile(`(?m)^\s*(//|#)|/\*`)
)

// heuristicQuality is the deterministic fallback quality scorer. Empty or
// minimal code scores zero on every sub-score; otherwise each sub-score
// accumulates additive credit, capped at 10.
func heuristicQuality(code string) QualityScore {
	stripped := strings.TrimSpace(code)
	if len(stripped) < minCodeLength || nonBlankLines(stripped) < minCodeLines {
		return QualityScore{}
	}

	var q QualityScore

	// Readability: length bands, indentation, meaningful identifiers.
	switch n := len(stripped); {
	case n >= 200:
		q.Readability += 4
	case n >= 80:
		q.Readability += 3
	default:
		q.Readability += 2
	}
	if strings.Contains(code, "\n ") || strings.Contains(code, "\n\t") {
		q.Readability += 3
	}
	if len(identifierRe.FindAllString(code, 4)) >= 3 {
		q.Readability += 3
	}

	// Structure: function definitions and explicit returns.
	if functionRe.MatchString(code) {
		q.Structure += 5
	}
	if strings.Contains(code, "return") {
		q.Structure += 5
	}

	// Robustness: null guards and error recovery.
	if nullGuardRe.MatchString(code) {
		q.Robustness += 5
	}
	if tryCatchRe.MatchString(code) {
		q.Robustness += 5
	}

	// Documentation: comments present, strict equality hygiene.
	if commentRe.MatchString(code) {
		q.Documentation += 6
	}
	if !looseEqRe.MatchString(code) {
		q.Documentation += 4
	}

	q.Readability = capTen(q.Readability)
	q.Structure = capTen(q.Structure)
	q.Robustness = capTen(q.Robustness)
	q.Documentation = capTen(q.Documentation)
	q.Overall = (q.Readability + q.Structure + q.Robustness + q.Documentation) / 4
	return q
}

func nonBlankLines(s string) int {
	var n int
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func capTen(v float64) float64 {
	if v > 10 {
		return 10
	}
	return v
}
