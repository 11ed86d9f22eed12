// Package judge0 adapts the remote Judge0 API to the same execution contract
// as the local sandbox: submit, poll to a terminal status, and map statuses
// onto exit codes. It is the alternative judge backend selected by
// configuration.
package judge0

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/metrics"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// Client talks to a Judge0-compatible API.
type Client struct {
	cfg  *config.Judge0Config
	http *http.Client
}

// NewClient creates a cloud judge client.
func NewClient(cfg *config.Judge0Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// submission is the Judge0 create-submission payload. Source and stdin are
// base64-encoded; limits are CPU seconds and memory KiB.
type submission struct {
	SourceCode   string  `json:"source_code"`
	LanguageID   int     `json:"language_id"`
	Stdin        string  `json:"stdin,omitempty"`
	CPUTimeLimit float64 `json:"cpu_time_limit"`
	MemoryLimit  int     `json:"memory_limit"`
}

type submissionToken struct {
	Token string `json:"token"`
}

// submissionStatus is the Judge0 poll response. All payload fields are
// base64; time is seconds as a string, memory is KiB.
type submissionStatus struct {
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        string   `json:"stdout"`
	Stderr        string   `json:"stderr"`
	CompileOutput string   `json:"compile_output"`
	Time          string   `json:"time"`
	Memory        *float64 `json:"memory"`
}

// Execute submits the code and polls until a terminal status or the polling
// budget runs out. Exhausting the budget yields a timed-out result, not an
// error.
func (c *Client) Execute(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return models.ExecutionResult{}, err
	}

	sub, err := c.buildSubmission(req)
	if err != nil {
		return models.ExecutionResult{}, err
	}

	token, err := c.submit(ctx, sub)
	if err != nil {
		return models.ExecutionResult{}, err
	}

	return c.poll(ctx, token, req.Language)
}

func (c *Client) buildSubmission(req models.ExecutionRequest) (submission, error) {
	langID, err := languageID(req.Language)
	if err != nil {
		return submission{}, err
	}
	return submission{
		SourceCode:   base64.StdEncoding.EncodeToString([]byte(wrapCode(req.Language, req.Code))),
		LanguageID:   langID,
		Stdin:        base64.StdEncoding.EncodeToString([]byte(req.TestInput)),
		CPUTimeLimit: math.Ceil(float64(req.TimeoutMs) / 1000.0),
		MemoryLimit:  c.cfg.MemoryLimitKB,
	}, nil
}

func (c *Client) submit(ctx context.Context, sub submission) (string, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("judge0: marshaling submission: %w", err)
	}

	var token submissionToken
	url := c.cfg.BaseURL + "/submissions?base64_encoded=true&wait=false"
	if err := c.doWithRetry(ctx, http.MethodPost, url, body, &token); err != nil {
		return "", err
	}
	if token.Token == "" {
		return "", fmt.Errorf("judge0: empty submission token")
	}
	return token.Token, nil
}

// poll fetches the submission until terminal, bounded by MaxPollTime.
func (c *Client) poll(ctx context.Context, token, language string) (models.ExecutionResult, error) {
	deadline := time.Now().Add(c.cfg.MaxPollTime)
	url := c.cfg.BaseURL + "/submissions/" + token + "?base64_encoded=true&fields=status,stdout,stderr,compile_output,time,memory"

	for {
		if time.Now().After(deadline) {
			metrics.ExecutionsTotal.WithLabelValues(language, "timeout").Inc()
			return models.ExecutionResult{
				Stderr:          "Execution timed out",
				ExitCode:        models.ExitCodeTimeout,
				ExecutionTimeMs: c.cfg.MaxPollTime.Milliseconds(),
				TimedOut:        true,
			}, nil
		}

		var status submissionStatus
		if err := c.doWithRetry(ctx, http.MethodGet, url, nil, &status); err != nil {
			return models.ExecutionResult{}, err
		}

		if terminal(status.Status.ID) {
			result := decodeResult(&status)
			outcome := "ok"
			if result.TimedOut {
				outcome = "timeout"
			} else if result.ExitCode != 0 {
				outcome = "error"
			}
			metrics.ExecutionsTotal.WithLabelValues(language, outcome).Inc()
			return result, nil
		}

		select {
		case <-time.After(c.cfg.PollInterval):
		case <-ctx.Done():
			return models.ExecutionResult{}, ctx.Err()
		}
	}
}

// decodeResult converts a terminal poll response into an execution result.
func decodeResult(status *submissionStatus) models.ExecutionResult {
	result := models.ExecutionResult{
		Stdout: decodeBase64(status.Stdout),
		Stderr: decodeBase64(status.Stderr),
	}
	if secs, err := strconv.ParseFloat(status.Time, 64); err == nil {
		result.ExecutionTimeMs = int64(secs * 1000)
	}
	if status.Memory != nil {
		result.MemoryBytes = int64(*status.Memory * 1024)
	}
	mapStatus(status.Status.ID, status.Status.Description, decodeBase64(status.CompileOutput), &result)
	return result
}

func decodeBase64(s string) string {
	if s == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some deployments return plain text despite base64_encoded=true.
		return s
	}
	return string(decoded)
}

// doWithRetry performs a request with the adapter's retry policy:
// 429 → up to 3 retries with 1s/2s/4s backoff; 5xx → one retry after 1s;
// any other 4xx is never retried.
func (c *Client) doWithRetry(ctx context.Context, method, url string, body []byte, out any) error {
	backoff := time.Second
	retried5xx := false

	for attempt := 0; ; attempt++ {
		status, respBody, err := c.do(ctx, method, url, body)
		if err != nil {
			return err
		}

		switch {
		case status >= 200 && status < 300:
			if out != nil {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("judge0: decoding response: %w", err)
				}
			}
			return nil

		case status == http.StatusTooManyRequests:
			if attempt >= 3 {
				return fmt.Errorf("judge0: rate limited after %d retries", attempt)
			}
			slog.Warn("Judge0 rate limited, backing off", "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2

		case status >= 500:
			if retried5xx {
				return fmt.Errorf("judge0: server error %d", status)
			}
			retried5xx = true
			slog.Warn("Judge0 server error, retrying once", "status", status)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			return fmt.Errorf("judge0: request failed with status %d: %s", status, truncate(string(respBody), 200))
		}
	}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("judge0: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("judge0: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("judge0: reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
