// Package session holds the per-session state transitions and the concurrency-safe
// manager that owns the session collection.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/brigade/internal/types"
	"github.com/jonathan/brigade/internal/usage"
)

// projectNameRunes is the length of the derived project name before truncation
const projectNameRunes = 30

// ProjectName derives the display name of a session from its raw input
func ProjectName(raw string) string {
	runes := []rune(raw)
	if len(runes) <= projectNameRunes {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(string(runes[:projectNameRunes])) + "..."
}

// NewSession creates a session in the running state for generation 1
func NewSession(raw, offer string, now time.Time) types.Session {
	return types.Session{
		ID:           uuid.New().String(),
		ProjectName:  ProjectName(raw),
		RawInput:     raw,
		OfferDetails: offer,
		Artifacts:    []types.Artifact{},
		Status:       types.SessionRunning,
		Timestamp:    now,
		Generation:   1,
	}
}

// AppendArtifacts returns s with arts appended and token and cost totals recomputed.
// When markComplete is set the session becomes completed with score, which must be 1-3.
// The input session is not modified.
func AppendArtifacts(s types.Session, arts []types.Artifact, markComplete bool, score int, costPerMillion float64) (types.Session, error) {
	if markComplete && (score < 1 || score > 3) {
		return s, fmt.Errorf("%w: got %d", ErrInvalidScore, score)
	}

	seen := make(map[types.Role]bool, len(s.Artifacts)+len(arts))
	for _, a := range s.Artifacts {
		seen[a.Role] = true
	}
	for _, a := range arts {
		if seen[a.Role] {
			return s, fmt.Errorf("%w: %s", ErrDuplicateRole, a.Role)
		}
		seen[a.Role] = true
	}

	if markComplete && !containsRole(arts, types.RoleJudge) && !containsRole(s.Artifacts, types.RoleJudge) {
		return s, fmt.Errorf("completion requires a %s artifact", types.RoleJudge)
	}

	next := s
	next.Artifacts = make([]types.Artifact, 0, len(s.Artifacts)+len(arts))
	next.Artifacts = append(next.Artifacts, s.Artifacts...)
	next.Artifacts = append(next.Artifacts, arts...)
	next.TotalTokens = TotalTokens(next.Artifacts)
	next.TotalCost = usage.Cost(next.TotalTokens, costPerMillion)

	if markComplete {
		sc := score
		next.Score = &sc
		next.Status = types.SessionCompleted
	}
	return next, nil
}

// TotalTokens sums the token estimates of arts
func TotalTokens(arts []types.Artifact) int {
	total := 0
	for _, a := range arts {
		total += a.Tokens
	}
	return total
}

func containsRole(arts []types.Artifact, role types.Role) bool {
	for _, a := range arts {
		if a.Role == role {
			return true
		}
	}
	return false
}

// Restart returns s reset for a new run generation. The session is running again even
// when it had completed, with the artifacts, score and error of the old generation cleared.
func Restart(s types.Session) types.Session {
	next := s
	next.Generation++
	next.Artifacts = []types.Artifact{}
	next.Status = types.SessionRunning
	next.Score = nil
	next.TotalTokens = 0
	next.TotalCost = 0
	next.Error = ""
	return next
}
