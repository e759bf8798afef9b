package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jonathan/brigade/internal/pipeline"
	"github.com/jonathan/brigade/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestPrintArtifact_Table(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintArtifact(&types.Artifact{
		Role:        types.RoleExtractor,
		Title:       "Factual Evidence Map",
		Summary:     "Evidence mapped",
		DisplayType: types.DisplayTable,
		Tokens:      42,
		StructuredData: types.Table{
			Headers: []string{"Fact", "Source"},
			Rows:    [][]string{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"}, {"f", "6"}},
		},
	})
	output := buf.String()

	assert.Contains(t, output, "FACTUAL EVIDENCE MAP")
	assert.Contains(t, output, "Extractor")
	assert.Contains(t, output, "~42")
	assert.Contains(t, output, "Table: 2 columns, 6 rows")
	assert.Contains(t, output, "... and 1 more")
}

func TestPrintArtifact_ScoreCard(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintArtifact(&types.Artifact{
		Role:           types.RoleJudge,
		Title:          "Strategic Synthesis Report",
		DisplayType:    types.DisplayScoreCard,
		StructuredData: types.ScoreCard{OverallScore: 3, Metrics: []types.Metric{{Label: "Clarity", Score: 9}}},
	})
	output := buf.String()

	assert.Contains(t, output, "Overall: 3/3")
	assert.Contains(t, output, "Clarity: 9")
}

func TestPrintArtifact_Nil(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintArtifact(nil)
	p.PrintSession(nil)
	p.PrintLogs(nil)

	assert.Empty(t, buf.String())
}

func TestPrintBox_AlignsMultibyte(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.printBox("TITLE", "日本語\n"+strings.Repeat("x", 100))

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		assert.Equal(t, boxWidth, len([]rune(line)), "line %q", line)
	}
	assert.Contains(t, buf.String(), "...")
}

func TestPrintSession(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	score := 2

	p.PrintSession(&types.Session{
		ID:          "s-1",
		ProjectName: "Coaching",
		Status:      types.SessionCompleted,
		Score:       &score,
		TotalTokens: 900,
		TotalCost:   0.00045,
		Generation:  2,
		Artifacts: []types.Artifact{
			{Role: types.RoleCopywriter, Title: "Persuasion Architecture", DisplayType: types.DisplayMarkdown},
		},
	})
	output := buf.String()

	assert.Contains(t, output, "Coaching")
	assert.Contains(t, output, "Score:    2/3")
	assert.Contains(t, output, "$0.000450")
	assert.Contains(t, output, "generation 2")
	assert.Contains(t, output, "PERSUASION ARCHITECTURE")
}

func TestPrintSessionList(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintSessionList(nil)
	assert.Equal(t, "No sessions.\n", buf.String())

	buf.Reset()
	p.PrintSessionList([]types.Session{{ID: "s-1", Status: types.SessionRunning, ProjectName: "Coaching"}})
	assert.Contains(t, buf.String(), "s-1")
	assert.Contains(t, buf.String(), "running")
	assert.Contains(t, buf.String(), "Coaching")
}

func TestPrintProgressAndLogs(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintProgress(pipeline.ProgressEvent{Step: "Profiler", Stage: "PARALLEL", Message: "Status seekers"})
	p.PrintLogs(&types.Session{Logs: []types.LogEntry{{Time: time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC), Message: "run started"}}})

	assert.Contains(t, buf.String(), "[PARALLEL   ] Profiler")
	assert.Contains(t, buf.String(), "[09:30:00] run started")
}
