package unit

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameShape is returned when a unit changes the frame shape
	ErrFrameShape = errors.New("unit changed frame shape")

	// ErrUnitPanic wraps a panic recovered from Process
	ErrUnitPanic = errors.New("unit panicked")

	// ErrUnknownUnit is returned for identities that are not registered
	ErrUnknownUnit = errors.New("unknown unit")
)

// ProcessError reports which unit failed a frame
type ProcessError struct {
	UnitID string
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("unit %q failed to process frame: %v", e.UnitID, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// DiscoveryError reports an implementation that could not be instantiated
type DiscoveryError struct {
	UnitID string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to instantiate unit %q: %v", e.UnitID, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
