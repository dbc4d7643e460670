package quiz

import "errors"

// Error taxonomy. Handlers map these to HTTP statuses; everything else is a
// store failure and surfaces as a 500-equivalent.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidCriteria  = errors.New("invalid criteria")
	ErrAlreadyFinalized = errors.New("session already completed")
	// ErrNoQuestions means the pool had no candidates for a generation
	// request. Starvation below the requested count is NOT an error; this
	// fires only when the result is empty.
	ErrNoQuestions = errors.New("no questions available")
)
