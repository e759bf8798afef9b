package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/brigade/internal/llm"
	"github.com/jonathan/brigade/internal/schemas"
	"github.com/jonathan/brigade/internal/types"
)

// Parsed is a normalized agent response
type Parsed struct {
	Content   string
	Summary   string
	Data      types.StructuredData
	Recovered bool // true when fence stripping was needed
}

// wireOutput is the response shape declared to the backend
type wireOutput struct {
	Content        string          `json:"content"`
	Summary        string          `json:"summary"`
	StructuredData json.RawMessage `json:"structuredData,omitempty"`
}

// Normalize turns raw model text into a Parsed result for display type dt.
//
// The text is parsed strictly first. If that fails, markdown code fences are stripped and
// the parse is retried once. The decoded document must then satisfy the output schema of
// dt. Nothing is defaulted: every failure is a *ParseError.
func Normalize(raw string, dt types.DisplayType) (*Parsed, error) {
	schema, err := schemas.OutputSchema(dt)
	if err != nil {
		return nil, &ParseError{Message: "unsupported display type", Raw: raw, Cause: err}
	}

	doc, recovered, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	if err := schemas.Validate(schema, doc); err != nil {
		return nil, &ParseError{Message: "response does not match the declared schema", Raw: raw, Cause: err}
	}

	text := raw
	if recovered {
		text = llm.CleanJSONBlock(raw)
	}
	var out wireOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, &ParseError{Message: "failed to decode response fields", Raw: raw, Cause: err}
	}

	var data types.StructuredData
	if dt.RequiresData() {
		data, err = types.DecodeStructuredData(dt, out.StructuredData)
		if err != nil {
			return nil, &ParseError{Message: "failed to decode structured data", Raw: raw, Cause: err}
		}
	}

	if err := checkPayload(data); err != nil {
		return nil, &ParseError{Message: "structured data is incomplete", Raw: raw, Cause: err}
	}

	return &Parsed{
		Content:   out.Content,
		Summary:   out.Summary,
		Data:      data,
		Recovered: recovered,
	}, nil
}

// decodeDocument runs the strict parse and the single fence-stripping retry.
func decodeDocument(raw string) (doc any, recovered bool, err error) {
	if strings.TrimSpace(raw) == "" {
		return nil, false, &ParseError{Message: "empty response", Raw: raw}
	}

	firstErr := strictDecode(raw, &doc)
	if firstErr == nil {
		return doc, false, nil
	}

	cleaned := llm.CleanJSONBlock(raw)
	if cleaned == strings.TrimSpace(raw) {
		return nil, false, &ParseError{Message: "response is not valid JSON", Raw: raw, Cause: firstErr}
	}
	if err := strictDecode(cleaned, &doc); err != nil {
		return nil, false, &ParseError{Message: "response is not valid JSON after removing code fences", Raw: raw, Cause: err}
	}
	return doc, true, nil
}

// strictDecode decodes exactly one JSON object and rejects trailing data
func strictDecode(text string, v *any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	if _, ok := (*v).(map[string]any); !ok {
		return fmt.Errorf("expected a JSON object")
	}
	return nil
}

// checkPayload enforces the shape invariants JSON Schema cannot express
func checkPayload(data types.StructuredData) error {
	switch d := data.(type) {
	case types.Table:
		for i, row := range d.Rows {
			if len(row) != len(d.Headers) {
				return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(d.Headers))
			}
		}
	case types.ScoreCard:
		if _, ok := d.Stars(); !ok {
			return fmt.Errorf("overallScore %v is not a 1-3 star rating", d.OverallScore)
		}
	}
	return nil
}
