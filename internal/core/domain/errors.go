package domain

import "errors"

var (
	// ErrInvalidInput is returned when a corner coordinate is missing,
	// unparsable or out of range.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable is returned when the incident store could not be
	// queried. It is distinct from an empty result.
	ErrStoreUnavailable = errors.New("incident store unavailable")
)
