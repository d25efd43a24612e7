package algoprox

import "errors"

// Sentinel errors returned by the solver backends.
var (
	// ErrInvalidOptions is returned by Initialize when backend options are
	// out of range.
	ErrInvalidOptions = errors.New("algoprox: invalid options")

	// ErrInvalidProblem is returned when a Problem is incomplete or its
	// proximal operators do not fit the operator's dimensions.
	ErrInvalidProblem = errors.New("algoprox: invalid problem")

	// ErrNotInitialized is returned when a backend is used before Initialize.
	ErrNotInitialized = errors.New("algoprox: backend not initialized")

	// ErrReleased is returned when a backend is used after Release.
	ErrReleased = errors.New("algoprox: backend released")

	// ErrAlreadyInitialized is returned by a second Initialize without Release.
	ErrAlreadyInitialized = errors.New("algoprox: backend already initialized")

	// ErrLengthMismatch is returned when host slices don't match the
	// problem dimensions.
	ErrLengthMismatch = errors.New("algoprox: slice length mismatch")
)
