package dispatch

import "errors"

// Domain errors for the dispatch package. Check with errors.Is().
var (
	// ErrUnknownProperty is returned when the property is not defined on the
	// target's model or is not writable.
	ErrUnknownProperty = errors.New("dispatch: unknown property")

	// ErrNothingToPublish is returned when a transform yields no wire value.
	// Nothing is sent.
	ErrNothingToPublish = errors.New("dispatch: nothing to publish")

	// ErrPublishFailure is returned when publishing an op fails. Ops of
	// later tiers are not sent and their properties are not acknowledged.
	ErrPublishFailure = errors.New("dispatch: publish failed")

	// ErrNoModel is returned when the target has no resolved model yet.
	ErrNoModel = errors.New("dispatch: target has no model")
)
