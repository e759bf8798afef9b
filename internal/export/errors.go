package export

import (
	"errors"
	"fmt"
)

// ErrNotCompleted is returned when exporting a session that has not converged
var ErrNotCompleted = errors.New("session is not completed")

// TemplateError represents an error parsing or executing the dossier template
type TemplateError struct {
	Message string
	Cause   error
}

func (e *TemplateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("template error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("template error: %s", e.Message)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}
