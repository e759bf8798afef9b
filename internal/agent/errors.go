package agent

import (
	"fmt"

	"github.com/jonathan/brigade/internal/types"
)

// InvocationError represents a failed backend call for one role
type InvocationError struct {
	Role    types.Role
	Message string
	Cause   error
}

func (e *InvocationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent %s: invocation failed: %s: %v", e.Role, e.Message, e.Cause)
	}
	return fmt.Sprintf("agent %s: invocation failed: %s", e.Role, e.Message)
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// ParseError represents a response that could not be read as the declared structured format
type ParseError struct {
	Role    types.Role
	Message string
	Raw     string
	Cause   error
}

func (e *ParseError) Error() string {
	prefix := "parse error"
	if e.Role != "" {
		prefix = fmt.Sprintf("agent %s: parse error", e.Role)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
