package agent

import (
	"errors"
	"testing"

	"github.com/jonathan/brigade/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tableResponse = `{"content":"Evidence","summary":"Three facts","structuredData":{"headers":["Fact","Source"],"rows":[["Sells coaching","page"],["Costs $2k","email"]]}}`

func TestNormalize_StrictParse(t *testing.T) {
	parsed, err := Normalize(tableResponse, types.DisplayTable)
	require.NoError(t, err)

	assert.Equal(t, "Evidence", parsed.Content)
	assert.Equal(t, "Three facts", parsed.Summary)
	assert.False(t, parsed.Recovered)

	table, ok := parsed.Data.(types.Table)
	require.True(t, ok)
	assert.Equal(t, []string{"Fact", "Source"}, table.Headers)
	assert.Len(t, table.Rows, 2)
}

func TestNormalize_FenceRecoveryMatchesUnfenced(t *testing.T) {
	plain, err := Normalize(tableResponse, types.DisplayTable)
	require.NoError(t, err)

	for name, fenced := range map[string]string{
		"json fence":     "```json\n" + tableResponse + "\n```",
		"bare fence":     "```\n" + tableResponse + "\n```",
		"padded":         "  \n```json\n" + tableResponse + "\n```\n  ",
		"trailing fence": tableResponse + "\n```",
	} {
		t.Run(name, func(t *testing.T) {
			recovered, err := Normalize(fenced, types.DisplayTable)
			require.NoError(t, err)
			assert.True(t, recovered.Recovered)
			assert.Equal(t, plain.Content, recovered.Content)
			assert.Equal(t, plain.Summary, recovered.Summary)
			assert.Equal(t, plain.Data, recovered.Data)
		})
	}
}

func TestNormalize_Markdown(t *testing.T) {
	parsed, err := Normalize(`{"content":"# Hooks","summary":"Lead with status"}`, types.DisplayMarkdown)
	require.NoError(t, err)
	assert.Nil(t, parsed.Data)
	assert.Equal(t, "# Hooks", parsed.Content)
}

func TestNormalize_ScoreCard(t *testing.T) {
	raw := `{"content":"Synthesis","summary":"Strong","structuredData":{"overallScore":3,"metrics":[{"label":"Clarity","score":9,"advice":"Keep it"}]}}`
	parsed, err := Normalize(raw, types.DisplayScoreCard)
	require.NoError(t, err)

	card, ok := parsed.Data.(types.ScoreCard)
	require.True(t, ok)
	stars, ok := card.Stars()
	assert.True(t, ok)
	assert.Equal(t, 3, stars)
}

func TestNormalize_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		dt   types.DisplayType
	}{
		{name: "empty", raw: "   ", dt: types.DisplayMarkdown},
		{name: "prose", raw: "Sure! Here is the analysis.", dt: types.DisplayMarkdown},
		{name: "broken inside fence", raw: "```json\n{\"content\": \n```", dt: types.DisplayMarkdown},
		{name: "missing summary", raw: `{"content":"x"}`, dt: types.DisplayMarkdown},
		{name: "missing content", raw: `{"summary":"x"}`, dt: types.DisplayMarkdown},
		{name: "array document", raw: `[{"content":"x","summary":"y"}]`, dt: types.DisplayMarkdown},
		{name: "trailing data", raw: `{"content":"x","summary":"y"} {"content":"z"}`, dt: types.DisplayMarkdown},
		{name: "table without data", raw: `{"content":"x","summary":"y"}`, dt: types.DisplayTable},
		{name: "table with ragged row", raw: `{"content":"x","summary":"y","structuredData":{"headers":["a","b"],"rows":[["1"]]}}`, dt: types.DisplayTable},
		{name: "matrix missing quadrant", raw: `{"content":"x","summary":"y","structuredData":{"q1":{"label":"a","items":[]},"q2":{"label":"b","items":[]},"q3":{"label":"c","items":[]}}}`, dt: types.DisplayMatrix},
		{name: "recipe without steps", raw: `{"content":"x","summary":"y","structuredData":{"ingredients":["a"],"steps":[]}}`, dt: types.DisplayRecipe},
		{name: "score out of range", raw: `{"content":"x","summary":"y","structuredData":{"overallScore":5,"metrics":[{"label":"a","score":1,"advice":"b"}]}}`, dt: types.DisplayScoreCard},
		{name: "score missing", raw: `{"content":"x","summary":"y","structuredData":{"metrics":[{"label":"a","score":1,"advice":"b"}]}}`, dt: types.DisplayScoreCard},
		{name: "unknown display type", raw: `{"content":"x","summary":"y"}`, dt: types.DisplayType("chart")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Normalize(tt.raw, tt.dt)
			require.Error(t, err)
			assert.Nil(t, parsed)

			var pe *ParseError
			require.True(t, errors.As(err, &pe), "expected *ParseError, got %T", err)
			assert.Equal(t, tt.raw, pe.Raw)
		})
	}
}
