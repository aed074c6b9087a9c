package configure

import "errors"

// Domain errors for the configure package. Check with errors.Is().
var (
	// ErrConfigureFailure is returned when a configure attempt fails.
	ErrConfigureFailure = errors.New("configure: attempt failed")

	// ErrAttemptsExhausted is returned once a device has used all of its
	// attempts for this session.
	ErrAttemptsExhausted = errors.New("configure: attempts exhausted")
)
