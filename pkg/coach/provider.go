// Package coach aggregates per-match code analyses and mid-match hints:
// persistence, paginated history, category summaries, trends, weakness
// profiles, and the optional AI provider behind them.
package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// AnalysisRequest is the input to a code analysis call.
type AnalysisRequest struct {
	Code      string `json:"code"`
	Language  string `json:"language"`
	Challenge string `json:"challenge"`
}

// AnalysisResponse is the provider's analysis output. Every field must
// satisfy the persistence invariants; the service re-validates before saving.
type AnalysisResponse struct {
	Complexity  models.ComplexityFinding  `json:"complexity"`
	Readability models.ReadabilityFinding `json:"readability"`
	Approach    models.ApproachFinding    `json:"approach"`
	Suggestions []string                  `json:"suggestions"`
	Bugs        []models.BugFinding       `json:"bugs"`
}

// HintRequest is the input to a hint generation call.
type HintRequest struct {
	Challenge string `json:"challenge"`
	Code      string `json:"code"`
	Level     int    `json:"level"`
}

// Provider generates analyses and hints. Implementations may fail; callers
// always have a deterministic fallback.
type Provider interface {
	AnalyzeCode(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error)
	GenerateHint(ctx context.Context, req HintRequest) (string, error)
}

// HTTPProvider talks JSON to an external analysis service.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider from config, or nil when no base URL is
// configured. A nil provider means fallbacks only.
func NewHTTPProvider(cfg *config.AIProviderConfig) *HTTPProvider {
	if cfg == nil || cfg.BaseURL == "" {
		return nil
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// AnalyzeCode implements Provider.
func (p *HTTPProvider) AnalyzeCode(ctx context.Context, req AnalysisRequest) (*AnalysisResponse, error) {
	var resp AnalysisResponse
	if err := p.post(ctx, "/v1/analyze", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateHint implements Provider.
func (p *HTTPProvider) GenerateHint(ctx context.Context, req HintRequest) (string, error) {
	var resp struct {
		Hint string `json:"hint"`
	}
	if err := p.post(ctx, "/v1/hint", req, &resp); err != nil {
		return "", err
	}
	if resp.Hint == "" {
		return "", fmt.Errorf("provider returned empty hint")
	}
	return resp.Hint, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding provider response: %w", err)
	}
	return nil
}

// fallbackAnalysis produces a deterministic analysis when no provider is
// available. It satisfies the same invariants as a provider response,
// including the 3-5 suggestion bound.
func fallbackAnalysis(code, language string) *AnalysisResponse {
	lines := strings.Split(code, "\n")
	nonEmpty := 0
	commented := 0
	nested := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			commented++
		}
		if strings.Count(line, "\t") >= 2 || strings.HasPrefix(line, "        ") {
			nested = true
		}
	}

	complexity := models.ComplexityFinding{Time: "O(n)", Space: "O(1)"}
	if nested {
		complexity.Time = "O(n^2)"
		complexity.Explanation = "Nested iteration detected from indentation depth."
	}

	readability := models.ReadabilityFinding{Score: 5}
	if commented > 0 {
		readability.Score += 2
		readability.Comments = append(readability.Comments, "Code includes explanatory comments.")
	}
	if nonEmpty > 0 && nonEmpty <= 40 {
		readability.Score += 1
	}
	if readability.Score > 10 {
		readability.Score = 10
	}

	suggestions := []string{
		"Add test cases covering empty and single-element inputs.",
		"Extract repeated expressions into named helper functions.",
		"Handle unexpected input types explicitly instead of relying on coercion.",
	}
	if commented == 0 {
		suggestions = append(suggestions, "Document the intent of non-obvious sections with short comments.")
	}
	if nested {
		suggestions = append(suggestions, "Consider a hash-based lookup to avoid the nested scan.")
	}

	return &AnalysisResponse{
		Complexity:  complexity,
		Readability: readability,
		Approach: models.ApproachFinding{
			Summary:  fmt.Sprintf("Iterative %s solution over %d lines.", language, nonEmpty),
			Patterns: []string{"iteration"},
		},
		Suggestions: suggestions,
	}
}

// fallbackHint returns a canned hint for the level when no provider is
// available. Levels get progressively more concrete.
func fallbackHint(level int, challengeTitle string) string {
	switch level {
	case 1:
		return fmt.Sprintf("Re-read the constraints of %q: which inputs are the edge cases your current approach skips?", challengeTitle)
	case 2:
		return "Walk through your solution with the smallest failing test by hand and watch where the intermediate state diverges from what you expect."
	default:
		return "Consider trading memory for time: a map from seen values to their positions often turns a nested scan into a single pass."
	}
}
