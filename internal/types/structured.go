package types

import (
	"encoding/json"
	"fmt"
)

// StructuredData is the schema-shaped payload attached to an artifact.
// Each display type that carries data has exactly one implementation.
type StructuredData interface {
	DisplayType() DisplayType
}

// Table is the payload for DisplayTable
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// DisplayType implements StructuredData
func (Table) DisplayType() DisplayType { return DisplayTable }

// Quadrant is one cell of a Matrix
type Quadrant struct {
	Label string   `json:"label"`
	Items []string `json:"items"`
}

// Matrix is the four-quadrant payload for DisplayMatrix
type Matrix struct {
	Q1 Quadrant `json:"q1"`
	Q2 Quadrant `json:"q2"`
	Q3 Quadrant `json:"q3"`
	Q4 Quadrant `json:"q4"`
}

// DisplayType implements StructuredData
func (Matrix) DisplayType() DisplayType { return DisplayMatrix }

// Quadrants returns the quadrants in q1..q4 order
func (m Matrix) Quadrants() []Quadrant {
	return []Quadrant{m.Q1, m.Q2, m.Q3, m.Q4}
}

// Recipe is the ingredient/step payload for DisplayRecipe
type Recipe struct {
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
}

// DisplayType implements StructuredData
func (Recipe) DisplayType() DisplayType { return DisplayRecipe }

// Metric is one scored dimension of a ScoreCard
type Metric struct {
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	Advice string  `json:"advice"`
}

// ScoreCard is the payload for DisplayScoreCard
type ScoreCard struct {
	OverallScore float64  `json:"overallScore"`
	Metrics      []Metric `json:"metrics"`
}

// DisplayType implements StructuredData
func (ScoreCard) DisplayType() DisplayType { return DisplayScoreCard }

// Stars converts the overall score to the 1-3 session score.
// ok is false when the score does not round into that range.
func (s ScoreCard) Stars() (stars int, ok bool) {
	if s.OverallScore < 0 {
		return 0, false
	}
	rounded := int(s.OverallScore + 0.5)
	if rounded < 1 || rounded > 3 {
		return rounded, false
	}
	return rounded, true
}

// DecodeStructuredData decodes raw JSON into the payload type selected by dt.
// Markdown artifacts never carry data, so an empty or null payload yields nil.
func DecodeStructuredData(dt DisplayType, raw json.RawMessage) (StructuredData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		if dt.RequiresData() {
			return nil, fmt.Errorf("display type %s requires structured data", dt)
		}
		return nil, nil
	}

	var (
		data StructuredData
		err  error
	)
	switch dt {
	case DisplayMarkdown:
		return nil, nil
	case DisplayTable:
		var v Table
		err = json.Unmarshal(raw, &v)
		data = v
	case DisplayMatrix:
		var v Matrix
		err = json.Unmarshal(raw, &v)
		data = v
	case DisplayRecipe:
		var v Recipe
		err = json.Unmarshal(raw, &v)
		data = v
	case DisplayScoreCard:
		var v ScoreCard
		err = json.Unmarshal(raw, &v)
		data = v
	default:
		return nil, fmt.Errorf("unknown display type: %q", dt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", dt, err)
	}
	return data, nil
}
