package descriptor

import "errors"

// Domain errors for the descriptor package. Check with errors.Is().
var (
	// ErrNotFound is returned when a model has no descriptor with the requested id.
	ErrNotFound = errors.New("descriptor: not found")

	// ErrUnknownModel is returned when a model id has no curated definition.
	// Callers fall back to the generic descriptor set.
	ErrUnknownModel = errors.New("descriptor: unknown model")

	// ErrUnknownTransform is returned when a descriptor names an unregistered transform.
	ErrUnknownTransform = errors.New("descriptor: unknown transform")

	// ErrUnknownRule is returned when a model names an unregistered cascade or sync rule.
	ErrUnknownRule = errors.New("descriptor: unknown rule")

	// ErrInvalidValue is returned when a transform cannot convert a value.
	ErrInvalidValue = errors.New("descriptor: invalid value")

	// ErrInvalidDescriptor is returned when a descriptor fails validation.
	ErrInvalidDescriptor = errors.New("descriptor: invalid descriptor")
)
