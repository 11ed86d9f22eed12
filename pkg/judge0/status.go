package judge0

import (
	"fmt"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// Judge0 status ids.
const (
	statusInQueue          = 1
	statusProcessing       = 2
	statusAccepted         = 3
	statusWrongAnswer      = 4
	statusTimeLimit        = 5
	statusCompilationError = 6
	statusSIGSEGV          = 7
	statusSIGXFSZ          = 8
	statusSIGFPE           = 9
	statusSIGABRT          = 10
	statusNZEC             = 11
	statusOther            = 12
	statusInternalError    = 13
	statusExecFormatError  = 14
)

// terminal reports whether a status id is final.
func terminal(statusID int) bool {
	return statusID != statusInQueue && statusID != statusProcessing
}

// mapStatus folds a terminal Judge0 status into the execution result. The
// mapping is authoritative: wrong answers are NOT failures here, since
// correctness is judged downstream by output comparison.
func mapStatus(statusID int, description, compileOutput string, result *models.ExecutionResult) {
	switch statusID {
	case statusAccepted, statusWrongAnswer:
		result.ExitCode = 0
	case statusTimeLimit:
		result.ExitCode = models.ExitCodeTimeout
		result.TimedOut = true
		result.Stderr = appendStderr(result.Stderr, "Time limit exceeded")
	case statusCompilationError:
		result.ExitCode = 1
		result.Stderr = appendStderr(result.Stderr, "Compilation error\n"+compileOutput)
	case statusSIGSEGV:
		result.ExitCode = 139
		result.Stderr = appendStderr(result.Stderr, "Segmentation fault (SIGSEGV)")
	case statusSIGXFSZ:
		result.ExitCode = 153
		result.Stderr = appendStderr(result.Stderr, "Output file size limit exceeded (SIGXFSZ)")
	case statusSIGFPE:
		result.ExitCode = 136
		result.Stderr = appendStderr(result.Stderr, "Floating point exception (SIGFPE)")
	case statusSIGABRT:
		result.ExitCode = 134
		result.Stderr = appendStderr(result.Stderr, "Aborted (SIGABRT)")
	case statusNZEC:
		result.ExitCode = 1
		result.Stderr = appendStderr(result.Stderr, "Non-zero exit code")
	case statusOther:
		result.ExitCode = 1
		result.Stderr = appendStderr(result.Stderr, "Runtime error")
	default:
		// Internal Error, Exec Format Error, or anything unknown.
		result.ExitCode = 1
		result.Stderr = appendStderr(result.Stderr, fmt.Sprintf("Judge error: %s", description))
	}
}

func appendStderr(existing, extra string) string {
	if existing == "" {
		return extra
	}
	return existing + "\n" + extra
}
