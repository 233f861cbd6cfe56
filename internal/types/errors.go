package types

import "errors"

// Infrastructure-level errors. These are ordinary Go errors returned up
// the call stack; they are distinct from DenialReason, which is a value
// carried on a Decision and never returned as an error.
var (
	// ErrChainConflict is returned by EventStore.Append when the tail changed
	// between read and write; callers retry with jittered backoff.
	ErrChainConflict = errors.New("invarity: chain conflict")

	// ErrStoreUnavailable is fatal for the caller; proofchain.AppendWithRetry
	// returns it once retries on ErrChainConflict are exhausted.
	ErrStoreUnavailable = errors.New("invarity: store unavailable")

	// ErrProfileVersionConflict is returned by trust.ProfileRepo.Save on a
	// failed optimistic compare-and-swap.
	ErrProfileVersionConflict = errors.New("invarity: profile version conflict")

	// ErrNotFound is returned by repository lookups that find nothing.
	ErrNotFound = errors.New("invarity: not found")

	// ErrIntentTerminal marks an attempt to mutate an intent that has
	// already reached a terminal status. The HTTP layer maps it to a status
	// code; no package in this module returns it.
	ErrIntentTerminal = errors.New("invarity: intent already in terminal status")

	// ErrDeadlineExceeded mirrors context.DeadlineExceeded for a
	// component-imposed sub-deadline. The HTTP layer maps it to a status
	// code; no package in this module returns it.
	ErrDeadlineExceeded = errors.New("invarity: deadline exceeded")
)

// ValidationError is surfaced directly to the caller and never stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invarity: validation error: " + e.Field + ": " + e.Message
}

// ValidationErrors collects multiple ValidationError values from a single
// structural check of an inbound wire payload.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "invarity: validation error"
	}
	msg := e[0].Error()
	for _, extra := range e[1:] {
		msg += "; " + extra.Error()
	}
	return msg
}
