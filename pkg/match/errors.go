package match

import "errors"

// Sentinel errors surfaced by the state machine. The API edge maps these to
// HTTP statuses.
var (
	ErrMatchNotFound        = errors.New("match not found")
	ErrNotParticipant       = errors.New("user is not a participant in this match")
	ErrMatchOver            = errors.New("match is already completed or abandoned")
	ErrMatchNotActive       = errors.New("match is not active")
	ErrCompletionInProgress = errors.New("match completion already in progress")
)
