package judge0

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeclash-io/codeclash/pkg/models"
)

func TestTerminal(t *testing.T) {
	assert.False(t, terminal(statusInQueue))
	assert.False(t, terminal(statusProcessing))
	for id := statusAccepted; id <= statusExecFormatError; id++ {
		assert.True(t, terminal(id), "status %d", id)
	}
	assert.True(t, terminal(99))
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name          string
		statusID      int
		description   string
		compileOutput string
		wantExit      int
		wantTimedOut  bool
		wantStderr    string
	}{
		{
			name:     "accepted",
			statusID: statusAccepted,
			wantExit: 0,
		},
		{
			// Wrong answers are not execution failures; correctness is decided
			// downstream by output comparison.
			name:     "wrong answer still exit zero",
			statusID: statusWrongAnswer,
			wantExit: 0,
		},
		{
			name:         "time limit exceeded",
			statusID:     statusTimeLimit,
			wantExit:     models.ExitCodeTimeout,
			wantTimedOut: true,
			wantStderr:   "Time limit exceeded",
		},
		{
			name:          "compilation error carries compiler output",
			statusID:      statusCompilationError,
			compileOutput: "main.go:3: undefined: x",
			wantExit:      1,
			wantStderr:    "Compilation error\nmain.go:3: undefined: x",
		},
		{
			name:       "segfault",
			statusID:   statusSIGSEGV,
			wantExit:   139,
			wantStderr: "Segmentation fault (SIGSEGV)",
		},
		{
			name:       "output size limit",
			statusID:   statusSIGXFSZ,
			wantExit:   153,
			wantStderr: "Output file size limit exceeded (SIGXFSZ)",
		},
		{
			name:       "floating point exception",
			statusID:   statusSIGFPE,
			wantExit:   136,
			wantStderr: "Floating point exception (SIGFPE)",
		},
		{
			name:       "abort",
			statusID:   statusSIGABRT,
			wantExit:   134,
			wantStderr: "Aborted (SIGABRT)",
		},
		{
			name:       "non-zero exit",
			statusID:   statusNZEC,
			wantExit:   1,
			wantStderr: "Non-zero exit code",
		},
		{
			name:       "runtime error",
			statusID:   statusOther,
			wantExit:   1,
			wantStderr: "Runtime error",
		},
		{
			name:        "internal error",
			statusID:    statusInternalError,
			description: "Internal Error",
			wantExit:    1,
			wantStderr:  "Judge error: Internal Error",
		},
		{
			name:        "exec format error",
			statusID:    statusExecFormatError,
			description: "Exec Format Error",
			wantExit:    1,
			wantStderr:  "Judge error: Exec Format Error",
		},
		{
			name:        "unknown status",
			statusID:    42,
			description: "???",
			wantExit:    1,
			wantStderr:  "Judge error: ???",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result models.ExecutionResult
			mapStatus(tt.statusID, tt.description, tt.compileOutput, &result)
			assert.Equal(t, tt.wantExit, result.ExitCode)
			assert.Equal(t, tt.wantTimedOut, result.TimedOut)
			assert.Equal(t, tt.wantStderr, result.Stderr)
		})
	}
}

func TestMapStatusAppendsToExistingStderr(t *testing.T) {
	result := models.ExecutionResult{Stderr: "panic: boom"}
	mapStatus(statusNZEC, "", "", &result)
	assert.Equal(t, "panic: boom\nNon-zero exit code", result.Stderr)
}
