package sandbox

import "errors"

// Instance errors.
var (
	// ErrAlreadyActivated - activate was called a second time.
	ErrAlreadyActivated = errors.New("sandbox: instance already activated")

	// ErrShuttingDown - operation refused because teardown began.
	ErrShuttingDown = errors.New("sandbox: instance is shutting down")

	// ErrFatal - operation refused because the instance is in a
	// terminal failure state.
	ErrFatal = errors.New("sandbox: instance failed fatally")
)
