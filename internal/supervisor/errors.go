package supervisor

import "errors"

// Domain errors for the supervisor. Check with errors.Is().
var (
	// ErrUnknownDevice is returned for a device id or name with no record.
	ErrUnknownDevice = errors.New("supervisor: unknown device")

	// ErrNotRunning is returned when the supervisor has not been started or has stopped.
	ErrNotRunning = errors.New("supervisor: not running")
)
