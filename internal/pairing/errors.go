package pairing

import "errors"

// Domain errors for the pairing package. Check with errors.Is().
var (
	// ErrInvalidDuration is returned for a duration outside 1..MaxDuration seconds.
	ErrInvalidDuration = errors.New("pairing: invalid duration")

	// ErrNoSession is returned by Stop when no session is open.
	ErrNoSession = errors.New("pairing: no active session")
)
