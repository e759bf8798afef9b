// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jonathan/brigade/internal/pipeline"
	"github.com/jonathan/brigade/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode. It is safe for concurrent use
// because progress events arrive from the fan-out stage in parallel.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", pad(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for _, line := range lines {
		fmt.Fprintf(p.out, "│ %s │\n", pad(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// pad truncates or right-pads s to width runes
func pad(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n > width {
		runes := []rune(s)
		return string(runes[:width-3]) + "..."
	}
	return s + strings.Repeat(" ", width-n)
}

// PrintProgress outputs one pipeline progress line
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(e pipeline.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stage := string(e.Stage)
	if stage == "" {
		stage = "-"
	}
	fmt.Fprintf(p.out, "[%-11s] %-18s %s\n", stage, e.Step, e.Message)
}

// PrintArtifact outputs a human-readable summary of one artifact.
func (p *Printer) PrintArtifact(a *types.Artifact) {
	if a == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Role:     %s\n", a.Role))
	sb.WriteString(fmt.Sprintf("Display:  %s\n", a.DisplayType))
	sb.WriteString(fmt.Sprintf("Tokens:   ~%d\n", a.Tokens))
	sb.WriteString(fmt.Sprintf("Summary:  %s\n", a.Summary))

	switch d := a.StructuredData.(type) {
	case types.Table:
		sb.WriteString(fmt.Sprintf("\nTable: %d columns, %d rows\n", len(d.Headers), len(d.Rows)))
		sb.WriteString("  " + strings.Join(d.Headers, " | ") + "\n")
		writeItems(&sb, rowsAsLines(d.Rows))
	case types.Matrix:
		sb.WriteString("\n")
		for i, q := range d.Quadrants() {
			sb.WriteString(fmt.Sprintf("Q%d %s (%d)\n", i+1, q.Label, len(q.Items)))
		}
	case types.Recipe:
		sb.WriteString(fmt.Sprintf("\nIngredients (%d):\n", len(d.Ingredients)))
		writeItems(&sb, d.Ingredients)
		sb.WriteString(fmt.Sprintf("Steps (%d):\n", len(d.Steps)))
		writeItems(&sb, d.Steps)
	case types.ScoreCard:
		stars, _ := d.Stars()
		sb.WriteString(fmt.Sprintf("\nOverall: %d/3\n", stars))
		for _, m := range d.Metrics {
			sb.WriteString(fmt.Sprintf("  • %s: %v\n", m.Label, m.Score))
		}
	}

	p.printBox(strings.ToUpper(a.Title), sb.String())
}

// PrintSession outputs the header and artifacts of a session.
func (p *Printer) PrintSession(s *types.Session) {
	if s == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ID:       %s\n", s.ID))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", s.Status))
	if s.Score != nil {
		sb.WriteString(fmt.Sprintf("Score:    %d/3\n", *s.Score))
	}
	sb.WriteString(fmt.Sprintf("Tokens:   ~%d\n", s.TotalTokens))
	sb.WriteString(fmt.Sprintf("Cost:     $%.6f (estimate)\n", s.TotalCost))
	sb.WriteString(fmt.Sprintf("Run:      generation %d\n", s.Generation))
	if s.Error != "" {
		sb.WriteString(fmt.Sprintf("Error:    %s\n", s.Error))
	}
	p.printBox(s.ProjectName, sb.String())

	for i := range s.Artifacts {
		p.PrintArtifact(&s.Artifacts[i])
	}
}

// PrintSessionList outputs one line per session
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintSessionList(sessions []types.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(sessions) == 0 {
		fmt.Fprintln(p.out, "No sessions.")
		return
	}
	for _, s := range sessions {
		score := "-"
		if s.Score != nil {
			score = fmt.Sprintf("%d/3", *s.Score)
		}
		fmt.Fprintf(p.out, "%s  %-9s  %-3s  %6d tok  %s\n",
			s.ID, s.Status, score, s.TotalTokens, s.ProjectName)
	}
}

// PrintLogs outputs the run log of a session
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintLogs(s *types.Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range s.Logs {
		fmt.Fprintf(p.out, "[%s] %s\n", entry.Time.Format("15:04:05"), entry.Message)
	}
}

func rowsAsLines(rows [][]string) []string {
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = strings.Join(r, " | ")
	}
	return lines
}

func writeItems(sb *strings.Builder, items []string) {
	count := min(len(items), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", items[i]))
	}
	if len(items) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(items)-maxItemsToShow))
	}
}
