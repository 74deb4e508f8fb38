package usecases

import "errors"

// Error taxonomy. Validation rejections and self-similarity rejections are
// not errors at all - they come back as a GuessOutcome with Accepted=false.
// Transient collaborator failures surface as ports.ErrTransientService.
var (
	// ErrRoundNotFound: the round ID is unknown (or already swept).
	ErrRoundNotFound = errors.New("round not found")

	// ErrRoundConflict: an operation was attempted on a terminated round.
	// Fatal to the request, not retryable, no state change.
	ErrRoundConflict = errors.New("round is not active")

	// ErrPromptNotFound: round start against an unknown prompt.
	ErrPromptNotFound = errors.New("prompt not found")
)
