package artifact

import (
	"errors"
	"fmt"
)

var (
	// ErrToolResultNotFound is returned when no tool result was recorded for
	// the requested session / tool call pair.
	ErrToolResultNotFound = errors.New("tool result not found")

	// ErrEmptySelection is returned when the base selector matches nothing.
	ErrEmptySelection = errors.New("selector matched no data")
)

// ExtractionError identifies the artifact whose extraction failed.
type ExtractionError struct {
	ArtifactID string
	ToolCallID string
	Err        error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract artifact %s (tool call %s): %v", e.ArtifactID, e.ToolCallID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error { return e.Err }
