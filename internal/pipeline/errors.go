package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/brigade/internal/pipeline/steps"
)

// ErrEmptyInput is returned when a run is started without raw input
var ErrEmptyInput = errors.New("raw input is required")

// StageError is the consolidated failure of one pipeline stage. A parallel stage lists
// every role that failed.
type StageError struct {
	Stage    steps.Stage
	Failures []error
}

func (e *StageError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("stage %s failed: %s", e.Stage, strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As
func (e *StageError) Unwrap() []error {
	return e.Failures
}
