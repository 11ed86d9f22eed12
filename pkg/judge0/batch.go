package judge0

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// maxBatchSize is the Judge0 per-request submission cap. Larger inputs are
// chunked transparently.
const maxBatchSize = 20

type batchRequest struct {
	Submissions []submission `json:"submissions"`
}

type batchStatusResponse struct {
	Submissions []submissionStatus `json:"submissions"`
}

// ExecuteBatch runs all requests and returns one result per request, in
// order. A per-submission failure never fails the batch: the corresponding
// index carries a failed result instead.
func (c *Client) ExecuteBatch(ctx context.Context, reqs []models.ExecutionRequest) ([]models.ExecutionResult, error) {
	results := make([]models.ExecutionResult, len(reqs))

	for start := 0; start < len(reqs); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		if err := c.executeChunk(ctx, reqs[start:end], results[start:end]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// executeChunk submits one chunk and polls every token to terminal status.
func (c *Client) executeChunk(ctx context.Context, reqs []models.ExecutionRequest, results []models.ExecutionResult) error {
	subs := make([]submission, len(reqs))
	// Indexes whose build failed; they get a failed result and are skipped.
	skip := make([]bool, len(reqs))
	for i, req := range reqs {
		r := req
		if err := r.Validate(); err != nil {
			results[i] = failedResult(err)
			skip[i] = true
			continue
		}
		sub, err := c.buildSubmission(r)
		if err != nil {
			results[i] = failedResult(err)
			skip[i] = true
			continue
		}
		subs[i] = sub
	}

	// Collect the buildable submissions, remembering their original indexes.
	var live []submission
	var liveIdx []int
	for i, sub := range subs {
		if !skip[i] {
			live = append(live, sub)
			liveIdx = append(liveIdx, i)
		}
	}
	if len(live) == 0 {
		return nil
	}

	body, err := json.Marshal(batchRequest{Submissions: live})
	if err != nil {
		return fmt.Errorf("judge0: marshaling batch: %w", err)
	}

	var tokens []submissionToken
	url := c.cfg.BaseURL + "/submissions/batch?base64_encoded=true"
	if err := c.doWithRetry(ctx, http.MethodPost, url, body, &tokens); err != nil {
		return err
	}
	if len(tokens) != len(live) {
		return fmt.Errorf("judge0: batch returned %d tokens for %d submissions", len(tokens), len(live))
	}

	return c.pollBatch(ctx, tokens, liveIdx, reqs, results)
}

func (c *Client) pollBatch(ctx context.Context, tokens []submissionToken, liveIdx []int,
	reqs []models.ExecutionRequest, results []models.ExecutionResult,
) error {
	tokenList := make([]string, len(tokens))
	for i, t := range tokens {
		tokenList[i] = t.Token
	}
	url := c.cfg.BaseURL + "/submissions/batch?tokens=" + strings.Join(tokenList, ",") +
		"&base64_encoded=true&fields=status,stdout,stderr,compile_output,time,memory"

	deadline := time.Now().Add(c.cfg.MaxPollTime)
	done := make([]bool, len(tokens))

	for {
		if time.Now().After(deadline) {
			for i, d := range done {
				if !d {
					results[liveIdx[i]] = models.ExecutionResult{
						Stderr:          "Execution timed out",
						ExitCode:        models.ExitCodeTimeout,
						ExecutionTimeMs: c.cfg.MaxPollTime.Milliseconds(),
						TimedOut:        true,
					}
				}
			}
			return nil
		}

		var resp batchStatusResponse
		if err := c.doWithRetry(ctx, http.MethodGet, url, nil, &resp); err != nil {
			return err
		}
		if len(resp.Submissions) != len(tokens) {
			return fmt.Errorf("judge0: batch poll returned %d statuses for %d tokens", len(resp.Submissions), len(tokens))
		}

		allDone := true
		for i := range resp.Submissions {
			if done[i] {
				continue
			}
			status := resp.Submissions[i]
			if terminal(status.Status.ID) {
				results[liveIdx[i]] = decodeResult(&status)
				done[i] = true
			} else {
				allDone = false
			}
		}
		if allDone {
			return nil
		}

		select {
		case <-time.After(c.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func failedResult(err error) models.ExecutionResult {
	return models.ExecutionResult{
		Stderr:   err.Error(),
		ExitCode: 1,
	}
}
