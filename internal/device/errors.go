package device

import "errors"

// Domain errors for the device package. Check with errors.Is().
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when a record is missing its id or name.
	ErrInvalidDevice = errors.New("device: invalid")
)
