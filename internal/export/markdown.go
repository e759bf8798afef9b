// Package export renders a completed session as a Markdown dossier.
package export

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jonathan/brigade/internal/types"
)

//go:embed dossier.md.tmpl
var dossierTemplate string

var tmpl = template.Must(template.New("dossier").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(dossierTemplate))

// dossierData is the data passed to the dossier template
type dossierData struct {
	ProjectName string
	ID          string
	Status      types.SessionStatus
	Score       string
	TotalTokens int
	TotalCost   float64
	Created     string
	Sections    []section
}

type section struct {
	Title       string
	Role        types.Role
	DisplayType types.DisplayType
	Tokens      int
	Summary     string
	Content     string
	Data        string
}

// Markdown renders s as a Markdown dossier. Sections follow types.ExportOrder; roles
// without an artifact are skipped. Sessions that are not completed are refused.
func Markdown(s types.Session) (string, error) {
	if s.Status != types.SessionCompleted {
		return "", fmt.Errorf("%w: %s is %s", ErrNotCompleted, s.ID, s.Status)
	}

	data := dossierData{
		ProjectName: s.ProjectName,
		ID:          s.ID,
		Status:      s.Status,
		Score:       formatScore(s.Score),
		TotalTokens: s.TotalTokens,
		TotalCost:   s.TotalCost,
		Created:     s.Timestamp.UTC().Format(time.RFC3339),
	}
	for _, role := range types.ExportOrder {
		a, ok := s.Artifact(role)
		if !ok {
			continue
		}
		data.Sections = append(data.Sections, section{
			Title:       a.Title,
			Role:        a.Role,
			DisplayType: a.DisplayType,
			Tokens:      a.Tokens,
			Summary:     a.Summary,
			Content:     strings.TrimSpace(a.Content),
			Data:        RenderData(a.StructuredData),
		})
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", &TemplateError{Message: "failed to execute dossier template", Cause: err}
	}
	return out.String(), nil
}

// Filename returns a filesystem-safe name for the dossier of s
func Filename(s types.Session) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s.ProjectName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "session"
	}
	short := s.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("dossier-%s-%s.md", name, short)
}

func formatScore(score *int) string {
	if score == nil {
		return "unscored"
	}
	return fmt.Sprintf("%d/3 %s", *score, strings.Repeat("★", *score)+strings.Repeat("☆", 3-*score))
}

// RenderData renders a structured payload as plain Markdown. Nil renders as "".
func RenderData(data types.StructuredData) string {
	var b strings.Builder
	switch d := data.(type) {
	case types.Table:
		renderTable(&b, d)
	case types.Matrix:
		for i, q := range d.Quadrants() {
			fmt.Fprintf(&b, "**Q%d: %s**\n", i+1, q.Label)
			writeList(&b, q.Items, false)
			if i < 3 {
				b.WriteString("\n")
			}
		}
	case types.Recipe:
		b.WriteString("**Ingredients**\n")
		writeList(&b, d.Ingredients, false)
		b.WriteString("\n**Steps**\n")
		writeList(&b, d.Steps, true)
	case types.ScoreCard:
		if stars, ok := d.Stars(); ok {
			fmt.Fprintf(&b, "Overall: %d/3\n\n", stars)
		}
		for _, m := range d.Metrics {
			fmt.Fprintf(&b, "- %s: %s/10. %s\n", m.Label, trimFloat(m.Score), m.Advice)
		}
	default:
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTable(b *strings.Builder, t types.Table) {
	cells := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		cells[i] = EscapeCell(h)
	}
	fmt.Fprintf(b, "| %s |\n", strings.Join(cells, " | "))
	fmt.Fprintf(b, "|%s\n", strings.Repeat(" --- |", len(t.Headers)))
	for _, row := range t.Rows {
		cells = cells[:0]
		for _, c := range row {
			cells = append(cells, EscapeCell(c))
		}
		fmt.Fprintf(b, "| %s |\n", strings.Join(cells, " | "))
	}
}

func writeList(b *strings.Builder, items []string, numbered bool) {
	if len(items) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for i, item := range items {
		if numbered {
			fmt.Fprintf(b, "%d. %s\n", i+1, item)
		} else {
			fmt.Fprintf(b, "- %s\n", item)
		}
	}
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

// EscapeCell escapes text for use inside a Markdown table cell
func EscapeCell(text string) string {
	if text == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(text) + 8)

	for _, r := range text {
		switch r {
		case '|':
			result.WriteString(`\|`)
		case '\\':
			result.WriteString(`\\`)
		case '\n':
			result.WriteString("<br>")
		case '\r':
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}
