package store

import "errors"

// Domain errors for the store package. Check with errors.Is().
var (
	// ErrNotFound is returned when a device has no value for a property.
	ErrNotFound = errors.New("store: value not found")

	// ErrInvalidCommand is returned for a command topic or payload that cannot be parsed.
	ErrInvalidCommand = errors.New("store: invalid command")
)
