package models

import "fmt"

// Supported execution languages.
const (
	LanguageJavaScript = "javascript"
	LanguagePython     = "python"
	LanguageGo         = "go"
)

// Execution timeout bounds in milliseconds.
const (
	MinExecutionTimeoutMs     = 100
	MaxExecutionTimeoutMs     = 10000
	DefaultExecutionTimeoutMs = 10000
)

// ValidLanguage reports whether lang is a supported execution language.
func ValidLanguage(lang string) bool {
	switch lang {
	case LanguageJavaScript, LanguagePython, LanguageGo:
		return true
	}
	return false
}

// ExecutionRequest describes one sandboxed run of untrusted code.
type ExecutionRequest struct {
	Language  string `json:"language"`
	Code      string `json:"code"`
	TestInput string `json:"test_input,omitempty"`
	TimeoutMs int    `json:"timeout_ms"`
}

// Validate checks language and timeout bounds, applying the default timeout
// when none is set.
func (r *ExecutionRequest) Validate() error {
	if !ValidLanguage(r.Language) {
		return fmt.Errorf("unsupported language %q", r.Language)
	}
	if r.TimeoutMs == 0 {
		r.TimeoutMs = DefaultExecutionTimeoutMs
	}
	if r.TimeoutMs < MinExecutionTimeoutMs || r.TimeoutMs > MaxExecutionTimeoutMs {
		return fmt.Errorf("timeout_ms must be between %d and %d, got %d",
			MinExecutionTimeoutMs, MaxExecutionTimeoutMs, r.TimeoutMs)
	}
	return nil
}

// ExecutionResult is the outcome of one sandboxed run. A timeout is a normal
// result (TimedOut=true, ExitCode=124), never an error.
type ExecutionResult struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	MemoryBytes     int64  `json:"memory_bytes"`
	TimedOut        bool   `json:"timed_out"`
}

// ExitCodeTimeout is the conventional exit code reported for a forced kill
// after the wall-clock timeout (mirrors coreutils timeout(1)).
const ExitCodeTimeout = 124
