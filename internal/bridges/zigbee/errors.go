package zigbee

import "errors"

// Domain errors for the Zigbee adapter. Check with errors.Is().
var (
	// ErrNotConnected is returned when the MQTT connection is down.
	ErrNotConnected = errors.New("zigbee: not connected")

	// ErrTimeout is returned when the coordinator does not answer in time.
	ErrTimeout = errors.New("zigbee: request timed out")

	// ErrRequestFailed is returned when the coordinator answers with an error.
	ErrRequestFailed = errors.New("zigbee: request failed")

	// ErrUnknownDevice is returned for a device the coordinator has not listed.
	ErrUnknownDevice = errors.New("zigbee: unknown device")

	// ErrInvalidPayload is returned when a coordinator message cannot be parsed.
	ErrInvalidPayload = errors.New("zigbee: invalid payload")
)
