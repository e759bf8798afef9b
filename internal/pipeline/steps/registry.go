// Package steps provides the role registry that defines the pipeline topology: one root
// role, a configurable set of fan-out roles, and one convergence role.
package steps

import (
	"fmt"
	"os"
	"strings"

	"github.com/jonathan/brigade/internal/llm"
	"github.com/jonathan/brigade/internal/types"
	"gopkg.in/yaml.v3"
)

// Stage is a phase of the pipeline
type Stage string

// Pipeline stages, in execution order
const (
	StageRoot        Stage = "ROOT"
	StageParallel    Stage = "PARALLEL"
	StageConvergence Stage = "CONVERGENCE"
)

// StepDefinition defines metadata for one role in the pipeline
type StepDefinition struct {
	Role         types.Role        `yaml:"role" json:"role"`
	Stage        Stage             `yaml:"stage" json:"stage"`
	DisplayType  types.DisplayType `yaml:"display_type" json:"display_type"`
	Title        string            `yaml:"title" json:"title"`
	MissionKey   string            `yaml:"mission_key" json:"mission_key"`
	Tier         llm.ModelTier     `yaml:"tier,omitempty" json:"tier,omitempty"`
	Dependencies []types.Role      `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Registry is an ordered set of step definitions. Parallel steps run in this order
// when their results are appended.
type Registry struct {
	Steps []StepDefinition `yaml:"steps" json:"steps"`
}

var defaultSteps = []StepDefinition{
	{
		Role:        types.RoleExtractor,
		Stage:       StageRoot,
		DisplayType: types.DisplayTable,
		Title:       "Factual Evidence Map",
		MissionKey:  "mission-extractor",
	},
	{
		Role:         types.RoleProfiler,
		Stage:        StageParallel,
		DisplayType:  types.DisplayMatrix,
		Title:        "Psychological Profile",
		MissionKey:   "mission-profiler",
		Dependencies: []types.Role{types.RoleExtractor},
	},
	{
		Role:         types.RoleCopywriter,
		Stage:        StageParallel,
		DisplayType:  types.DisplayMarkdown,
		Title:        "Persuasion Architecture",
		MissionKey:   "mission-copywriter",
		Dependencies: []types.Role{types.RoleExtractor},
	},
	{
		Role:         types.RoleArchitect,
		Stage:        StageParallel,
		DisplayType:  types.DisplayRecipe,
		Title:        "Business Design Plan",
		MissionKey:   "mission-architect",
		Dependencies: []types.Role{types.RoleExtractor},
	},
	{
		Role:         types.RoleJudge,
		Stage:        StageConvergence,
		DisplayType:  types.DisplayScoreCard,
		Title:        "Strategic Synthesis Report",
		MissionKey:   "mission-judge",
		Tier:         llm.TierAdvanced,
		Dependencies: []types.Role{types.RoleExtractor, types.RoleProfiler, types.RoleCopywriter, types.RoleArchitect},
	},
}

// CompetitorAnalyzerStep is the optional fan-out role enabled by WithCompetitorAnalyzer
var CompetitorAnalyzerStep = StepDefinition{
	Role:         types.RoleCompetitorAnalyzer,
	Stage:        StageParallel,
	DisplayType:  types.DisplayTable,
	Title:        "Competitive Landscape",
	MissionKey:   "mission-competitor-analyzer",
	Dependencies: []types.Role{types.RoleExtractor},
}

// Default returns the standard topology: Extractor, then Profiler, Copywriter and
// Architect in parallel, then Judge.
func Default() *Registry {
	steps := make([]StepDefinition, len(defaultSteps))
	for i, s := range defaultSteps {
		s.Dependencies = append([]types.Role(nil), s.Dependencies...)
		steps[i] = s
	}
	return &Registry{Steps: steps}
}

// WithCompetitorAnalyzer returns a copy of r with the competitor analysis role added to
// the fan-out stage after the Profiler, and made a dependency of the convergence role.
func (r *Registry) WithCompetitorAnalyzer() *Registry {
	out := &Registry{}
	for _, s := range r.Steps {
		if s.Role == types.RoleCompetitorAnalyzer {
			return r.clone()
		}
	}
	for _, s := range r.Steps {
		s.Dependencies = append([]types.Role(nil), s.Dependencies...)
		if s.Stage == StageConvergence {
			s.Dependencies = append(s.Dependencies, types.RoleCompetitorAnalyzer)
		}
		out.Steps = append(out.Steps, s)
		if s.Role == types.RoleProfiler {
			out.Steps = append(out.Steps, CompetitorAnalyzerStep)
		}
	}
	return out
}

func (r *Registry) clone() *Registry {
	out := &Registry{Steps: make([]StepDefinition, len(r.Steps))}
	for i, s := range r.Steps {
		s.Dependencies = append([]types.Role(nil), s.Dependencies...)
		out.Steps[i] = s
	}
	return out
}

// Current returns r. It lets a static registry stand in where a Provider is expected.
func (r *Registry) Current() *Registry {
	return r
}

// Provider supplies the registry in effect for the next run
type Provider interface {
	Current() *Registry
}

// Root returns the root step
func (r *Registry) Root() StepDefinition {
	return r.stage(StageRoot)[0]
}

// Parallel returns the fan-out steps in configured order
func (r *Registry) Parallel() []StepDefinition {
	return r.stage(StageParallel)
}

// Convergence returns the convergence step
func (r *Registry) Convergence() StepDefinition {
	return r.stage(StageConvergence)[0]
}

// Lookup returns the definition for role
func (r *Registry) Lookup(role types.Role) (StepDefinition, bool) {
	for _, s := range r.Steps {
		if s.Role == role {
			return s, true
		}
	}
	return StepDefinition{}, false
}

func (r *Registry) stage(stage Stage) []StepDefinition {
	var out []StepDefinition
	for _, s := range r.Steps {
		if s.Stage == stage {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the topology: exactly one Extractor root, at least one fan-out role,
// exactly one Judge convergence role, unique roles and known display types. Every
// dependency must name a role of an earlier stage.
func (r *Registry) Validate() error {
	if r == nil || len(r.Steps) == 0 {
		return fmt.Errorf("registry has no steps")
	}

	var problems []string
	seen := make(map[types.Role]Stage)
	for _, s := range r.Steps {
		if _, err := types.ParseRole(string(s.Role)); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if _, dup := seen[s.Role]; dup {
			problems = append(problems, fmt.Sprintf("role %s defined twice", s.Role))
		}
		seen[s.Role] = s.Stage
		if _, err := types.ParseDisplayType(string(s.DisplayType)); err != nil {
			problems = append(problems, fmt.Sprintf("role %s: %v", s.Role, err))
		}
		if s.MissionKey == "" {
			problems = append(problems, fmt.Sprintf("role %s: mission_key is required", s.Role))
		}
		if _, err := llm.ParseTier(string(s.Tier)); err != nil {
			problems = append(problems, fmt.Sprintf("role %s: %v", s.Role, err))
		}
	}

	roots := r.stage(StageRoot)
	if len(roots) != 1 || roots[0].Role != types.RoleExtractor {
		problems = append(problems, fmt.Sprintf("stage %s must contain exactly the %s role", StageRoot, types.RoleExtractor))
	}
	convergence := r.stage(StageConvergence)
	if len(convergence) != 1 || convergence[0].Role != types.RoleJudge {
		problems = append(problems, fmt.Sprintf("stage %s must contain exactly the %s role", StageConvergence, types.RoleJudge))
	} else if convergence[0].DisplayType != types.DisplayScoreCard {
		problems = append(problems, fmt.Sprintf("role %s must use display type %s", types.RoleJudge, types.DisplayScoreCard))
	}
	parallel := r.stage(StageParallel)
	if len(parallel) == 0 {
		problems = append(problems, fmt.Sprintf("stage %s has no roles", StageParallel))
	}
	for _, s := range parallel {
		if s.Role == types.RoleExtractor || s.Role == types.RoleJudge {
			problems = append(problems, fmt.Sprintf("role %s cannot run in stage %s", s.Role, StageParallel))
		}
	}
	for _, s := range r.Steps {
		switch s.Stage {
		case StageRoot, StageParallel, StageConvergence:
		default:
			problems = append(problems, fmt.Sprintf("role %s: unknown stage %q", s.Role, s.Stage))
		}
		for _, dep := range s.Dependencies {
			depStage, ok := seen[dep]
			if !ok {
				problems = append(problems, fmt.Sprintf("role %s depends on undefined role %s", s.Role, dep))
				continue
			}
			if stageIndex(depStage) >= stageIndex(s.Stage) {
				problems = append(problems, fmt.Sprintf("role %s depends on %s from a later or same stage", s.Role, dep))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid registry: %s", strings.Join(problems, "; "))
	}
	return nil
}

func stageIndex(s Stage) int {
	switch s {
	case StageRoot:
		return 0
	case StageParallel:
		return 1
	case StageConvergence:
		return 2
	default:
		return 3
	}
}

// Load reads a YAML registry from path and validates it
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML registry document
func Parse(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Marshal renders r as YAML
func (r *Registry) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

// DependencyError reports roles whose artifacts are missing when a step is about to run
type DependencyError struct {
	Step                types.Role
	MissingDependencies []types.Role
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: missing dependencies: %v", e.Step, e.MissingDependencies)
}

// ValidateDependencies checks that every dependency of role has an artifact in session
func (r *Registry) ValidateDependencies(session *types.Session, role types.Role) error {
	def, ok := r.Lookup(role)
	if !ok {
		return fmt.Errorf("unknown step: %s", role)
	}

	var missing []types.Role
	for _, dep := range def.Dependencies {
		if !session.HasRole(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &DependencyError{Step: role, MissingDependencies: missing}
	}
	return nil
}
