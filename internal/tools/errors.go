package tools

import (
	"errors"
	"fmt"
)

var errNoProvider = errors.New("no embedding provider configured")

// ErrToolUnavailable is returned when a call names a tool that is not
// registered. It indicates a mismatch between caller and server, not a
// transient failure, so retrying will not help.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
