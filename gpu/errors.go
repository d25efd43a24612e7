package gpu

import "errors"

var (
	// ErrNoBackend is returned when no GPU backend is registered.
	ErrNoBackend = errors.New("algoprox/gpu: no backend registered")

	// ErrBackendUnavailable is returned when the backend is registered but not available
	// on the current system (e.g., no device, driver missing).
	ErrBackendUnavailable = errors.New("algoprox/gpu: backend unavailable")

	// ErrContextMismatch is returned when shared device state is acquired
	// from a second context while it is held on another.
	ErrContextMismatch = errors.New("algoprox/gpu: state held on another context")

	// ErrInvalidLength is returned for negative buffer or launch sizes.
	ErrInvalidLength = errors.New("algoprox/gpu: invalid length")

	// ErrLengthMismatch is returned when host slices are shorter than the buffer.
	ErrLengthMismatch = errors.New("algoprox/gpu: length mismatch")

	// ErrOutOfMemory is returned when an allocation exceeds the device memory budget.
	ErrOutOfMemory = errors.New("algoprox/gpu: out of device memory")

	// ErrClosed is returned when a released buffer, stream or context is used.
	ErrClosed = errors.New("algoprox/gpu: use of closed resource")
)
