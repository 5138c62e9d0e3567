package core

import "errors"

// Domain error taxonomy. Callers classify failures with errors.Is; wrapping
// with fmt.Errorf("...: %w", Err...) preserves the category while adding
// context.
var (
	// ErrValidation is returned when an enum value or required field is
	// malformed. Validation failures reject the operation before any state
	// mutation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when an operation references a threat record
	// or notification that does not exist. No partial effect occurs.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned on a state machine violation. The
	// record is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDelivery classifies channel-specific send failures. It is recovered
	// locally as a recorded failed attempt and never surfaces from Dispatch;
	// only the terminal failed status is reported upward, as domain state.
	ErrDelivery = errors.New("delivery error")
)
