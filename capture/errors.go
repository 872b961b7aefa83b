package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfStream is returned by ReadFrame when a finite source is exhausted.
	// It is a state transition for the caller, not a failure.
	ErrEndOfStream = errors.New("capture: end of stream")

	// ErrNoFrame marks a transient read with no frame available yet.
	ErrNoFrame = errors.New("capture: no frame available")

	// ErrReleased is returned by operations on a released capture.
	ErrReleased = errors.New("capture: released")
)

// OpenError reports that the decoder could not open a source.
type OpenError struct {
	Source string
	Cause  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("capture: cannot open %s: %v", e.Source, e.Cause)
}

func (e *OpenError) Unwrap() error { return e.Cause }

// ReadError is a recoverable read failure. Live sources retry after a short backoff.
type ReadError struct {
	Cause error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("capture: read failed: %v", e.Cause)
}

func (e *ReadError) Unwrap() error { return e.Cause }

// CapabilityError reports an operation the source does not support, such as
// seeking a live camera. State is left unchanged.
type CapabilityError struct {
	Op     string
	Source string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capture: %s not supported on %s source", e.Op, e.Source)
}
