package judging

import (
	"regexp"
	"strings"
)

var (
	higherOrderRe = regexp.MustCompile(`\.map\(|\.filter\(|\.reduce\(|\bmap\(|\bfilter\(|\blambda\b|func\(`)
	dataStructRe  = regexp.MustCompile(`\bmap\[|\bnew Map\b|\bnew Set\b|\bdict\(|\bset\(|\{\}|\[\]`)
	sortSearchRe  = regexp.MustCompile(`\bsort\b|\bsorted\(|\.sort\(|binary|bisect`)
)

// creativityScore is the construct-variety heuristic: zero when no tests
// passed, otherwise base 2 with increments per construct family, capped at 10.
func creativityScore(code string, passedTests int) float64 {
	if passedTests == 0 {
		return 0
	}

	score := 2.0
	if countFunctions(code) >= 2 {
		score += 2
	}
	if higherOrderRe.MatchString(code) {
		score += 2
	}
	if hasRecursion(code) {
		score += 2
	}
	if dataStructRe.MatchString(code) {
		score += 1
	}
	if sortSearchRe.MatchString(code) {
		score += 1
	}
	return capTen(score)
}

func countFunctions(code string) int {
	return len(functionRe.FindAllString(code, -1))
}

// hasRecursion checks whether any defined function name is called again in
// the body.
func hasRecursion(code string) bool {
	defRe := regexp.MustCompile(`(?:func|function|def)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	for _, m := range defRe.FindAllStringSubmatch(code, -1) {
		name := m[1]
		if strings.Count(code, name+"(") >= 2 {
			return true
		}
	}
	return false
}
