package schemas

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// FieldError is one violation at a dotted field path
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every violation of a document
type ValidationError struct {
	Errors []FieldError
}

func (ve *ValidationError) Error() string {
	msgs := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Fields returns the failing field paths
func (ve *ValidationError) Fields() []string {
	fields := make([]string, len(ve.Errors))
	for i, e := range ve.Errors {
		fields[i] = e.Field
	}
	return fields
}

// SchemaError reports a schema that gojsonschema could not compile
type SchemaError struct {
	Cause error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid schema: %v", e.Cause)
}

func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// Validate checks a decoded JSON document (maps, slices, scalars) against schema
func Validate(schema *Node, document any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema.Document()),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return &SchemaError{Cause: err}
	}
	if result.Valid() {
		return nil
	}

	ve := &ValidationError{Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		ve.Errors = append(ve.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return ve
}
