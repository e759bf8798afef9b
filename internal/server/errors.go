package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/brigade/internal/export"
	"github.com/jonathan/brigade/internal/pipeline"
	"github.com/jonathan/brigade/internal/session"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrBadRequest indicates a request body that could not be decoded
type ErrBadRequest struct {
	Cause error
}

func (e *ErrBadRequest) Error() string {
	return fmt.Sprintf("invalid request body: %v", e.Cause)
}

func (e *ErrBadRequest) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation *ErrValidation
		badRequest *ErrBadRequest
		tooLarge   *http.MaxBytesError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &validation), errors.As(err, &badRequest), errors.Is(err, pipeline.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, export.ErrNotCompleted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the error text sent to clients. Lookup failures carry a fixed
// message so the response does not depend on how the id was wrapped.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return session.ErrNotFound.Error()
	case errors.Is(err, export.ErrNotCompleted):
		return export.ErrNotCompleted.Error()
	default:
		return err.Error()
	}
}
