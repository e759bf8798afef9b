// Package types provides the data model shared by the pipeline: roles, display types,
// artifacts, structured payloads and sessions.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "fmt"

// Role identifies the specialization of one agent invocation
type Role string

// Pipeline roles
const (
	RoleExtractor          Role = "Extractor"
	RoleProfiler           Role = "Profiler"
	RoleCompetitorAnalyzer Role = "CompetitorAnalyzer"
	RoleCopywriter         Role = "Copywriter"
	RoleArchitect          Role = "Architect"
	RoleJudge              Role = "Judge"
)

// ExportOrder is the fixed order in which roles appear in an exported dossier.
var ExportOrder = []Role{
	RoleExtractor,
	RoleProfiler,
	RoleCompetitorAnalyzer,
	RoleCopywriter,
	RoleArchitect,
	RoleJudge,
}

// ParseRole validates a role name
func ParseRole(s string) (Role, error) {
	for _, r := range ExportOrder {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

// DisplayType selects the renderer applied to an artifact
type DisplayType string

// Display types
const (
	DisplayMarkdown  DisplayType = "markdown"
	DisplayTable     DisplayType = "table"
	DisplayMatrix    DisplayType = "matrix"
	DisplayRecipe    DisplayType = "recipe_card"
	DisplayScoreCard DisplayType = "score_card"
)

// AllDisplayTypes lists every known display type
var AllDisplayTypes = []DisplayType{
	DisplayMarkdown,
	DisplayTable,
	DisplayMatrix,
	DisplayRecipe,
	DisplayScoreCard,
}

// ParseDisplayType validates a display type name
func ParseDisplayType(s string) (DisplayType, error) {
	for _, dt := range AllDisplayTypes {
		if string(dt) == s {
			return dt, nil
		}
	}
	return "", fmt.Errorf("unknown display type: %q", s)
}

// RequiresData reports whether artifacts of this display type must carry a structured payload.
func (d DisplayType) RequiresData() bool {
	return d != DisplayMarkdown
}
