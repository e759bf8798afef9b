// Package schemas declares the structured-output contracts agents must satisfy and
// validates model responses against them with JSON Schema.
package schemas

import (
	"encoding/json"
	"fmt"

	"github.com/jonathan/brigade/internal/types"
)

// Kind is a JSON Schema primitive type
type Kind string

// Schema kinds
const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
)

// Node is a provider-neutral schema tree. It renders to JSON Schema for validation and
// for providers that accept JSON Schema, and is converted to native schema types by
// providers that do not.
type Node struct {
	Kind        Kind
	Description string
	Properties  map[string]*Node
	Order       []string // property order, used for rendering and provider conversion
	Required    []string
	Items       *Node
	Minimum     *float64
	Maximum     *float64
	MinItems    int
}

// Object builds an object node. Properties are given as alternating name/node pairs so
// that their declaration order is preserved.
func Object(description string, required []string, props ...any) *Node {
	n := &Node{
		Kind:        KindObject,
		Description: description,
		Properties:  make(map[string]*Node, len(props)/2),
		Required:    required,
	}
	for i := 0; i+1 < len(props); i += 2 {
		name := props[i].(string)
		n.Properties[name] = props[i+1].(*Node)
		n.Order = append(n.Order, name)
	}
	return n
}

// String builds a string node
func String(description string) *Node {
	return &Node{Kind: KindString, Description: description}
}

// Number builds a number node
func Number(description string) *Node {
	return &Node{Kind: KindNumber, Description: description}
}

// ArrayOf builds an array node
func ArrayOf(items *Node, minItems int) *Node {
	return &Node{Kind: KindArray, Items: items, MinItems: minItems}
}

// Between sets an inclusive numeric range
func (n *Node) Between(lo, hi float64) *Node {
	n.Minimum = &lo
	n.Maximum = &hi
	return n
}

// Document renders the node as a JSON Schema document
func (n *Node) Document() map[string]any {
	doc := map[string]any{"type": string(n.Kind)}
	if n.Description != "" {
		doc["description"] = n.Description
	}
	if n.Kind == KindObject {
		props := make(map[string]any, len(n.Properties))
		for _, name := range n.Order {
			props[name] = n.Properties[name].Document()
		}
		doc["properties"] = props
		if len(n.Required) > 0 {
			doc["required"] = n.Required
		}
	}
	if n.Items != nil {
		doc["items"] = n.Items.Document()
	}
	if n.MinItems > 0 {
		doc["minItems"] = n.MinItems
	}
	if n.Minimum != nil {
		doc["minimum"] = *n.Minimum
	}
	if n.Maximum != nil {
		doc["maximum"] = *n.Maximum
	}
	return doc
}

// MarshalJSON renders the node as JSON Schema
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Document())
}

func quadrant() *Node {
	return Object("", []string{"label", "items"},
		"label", String("Quadrant heading"),
		"items", ArrayOf(String(""), 0),
	)
}

// StructuredDataSchema returns the payload schema for a display type, or nil for markdown.
func StructuredDataSchema(dt types.DisplayType) *Node {
	switch dt {
	case types.DisplayTable:
		return Object("Tabular evidence", []string{"headers", "rows"},
			"headers", ArrayOf(String("Column heading"), 1),
			"rows", ArrayOf(ArrayOf(String("Cell"), 0), 1),
		)
	case types.DisplayMatrix:
		return Object("Four-quadrant breakdown", []string{"q1", "q2", "q3", "q4"},
			"q1", quadrant(),
			"q2", quadrant(),
			"q3", quadrant(),
			"q4", quadrant(),
		)
	case types.DisplayRecipe:
		return Object("Ingredients and ordered steps", []string{"ingredients", "steps"},
			"ingredients", ArrayOf(String("Ingredient"), 1),
			"steps", ArrayOf(String("Step"), 1),
		)
	case types.DisplayScoreCard:
		return Object("Quality score card", []string{"overallScore", "metrics"},
			"overallScore", Number("Overall rating from 1 to 3 stars").Between(1, 3),
			"metrics", ArrayOf(Object("", []string{"label", "score", "advice"},
				"label", String("Metric name"),
				"score", Number("Metric score from 0 to 10").Between(0, 10),
				"advice", String("Concrete improvement advice"),
			), 1),
		)
	default:
		return nil
	}
}

// OutputSchema returns the full response schema an agent must satisfy for a display type.
func OutputSchema(dt types.DisplayType) (*Node, error) {
	if _, err := types.ParseDisplayType(string(dt)); err != nil {
		return nil, err
	}

	content := String("Detailed Markdown report")
	summary := String("Punchy one-line summary")
	data := StructuredDataSchema(dt)
	if data == nil {
		return Object("", []string{"content", "summary"},
			"content", content,
			"summary", summary,
		), nil
	}
	return Object("", []string{"content", "summary", "structuredData"},
		"content", content,
		"summary", summary,
		"structuredData", data,
	), nil
}

// MustOutputSchema is OutputSchema for known display types
func MustOutputSchema(dt types.DisplayType) *Node {
	n, err := OutputSchema(dt)
	if err != nil {
		panic(fmt.Sprintf("no output schema: %v", err))
	}
	return n
}
