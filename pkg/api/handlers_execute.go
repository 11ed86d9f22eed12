package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeclash-io/codeclash/pkg/judging"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// executeWaitSlack is added to the requested timeout when waiting on the
// queue, covering queueing and container startup.
const executeWaitSlack = 20 * time.Second

type executeRequest struct {
	Language  string            `json:"language" binding:"required"`
	Code      string            `json:"code" binding:"required"`
	TimeoutMs int               `json:"timeout_ms"`
	TestCases []executeTestCase `json:"test_cases"`
}

type executeTestCase struct {
	Input          any `json:"input"`
	ExpectedOutput any `json:"expected_output"`
}

type executeCaseResult struct {
	Index  int                    `json:"index"`
	Passed bool                   `json:"passed"`
	Result models.ExecutionResult `json:"result"`
}

// handleExecute runs the caller's code against ad hoc test cases through the
// execution queue. Without test cases the code runs once on empty input.
func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.TestCases) == 0 {
		req.TestCases = []executeTestCase{{}}
	}

	results := make([]executeCaseResult, 0, len(req.TestCases))
	passed := 0
	for i, tc := range req.TestCases {
		input := ""
		if tc.Input != nil {
			raw, err := json.Marshal(tc.Input)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("test case %d input is not serializable", i)})
				return
			}
			input = string(raw)
		}

		execReq := models.ExecutionRequest{
			Language:  req.Language,
			Code:      req.Code,
			TestInput: input,
			TimeoutMs: req.TimeoutMs,
		}

		handle, err := s.execQueue.Enqueue(execReq)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		wait := time.Duration(execReq.TimeoutMs)*time.Millisecond + executeWaitSlack
		result, err := s.execQueue.AwaitResult(c.Request.Context(), handle, wait)
		if err != nil {
			respondError(c, err)
			return
		}

		ok := result.ExitCode == 0 && !result.TimedOut
		if ok && tc.ExpectedOutput != nil {
			ok = judging.OutputMatches(result.Stdout, tc.ExpectedOutput)
		}
		if ok {
			passed++
		}
		results = append(results, executeCaseResult{Index: i, Passed: ok, Result: result})
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"passed":  passed,
		"total":   len(results),
	})
}
