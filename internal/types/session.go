package types

import "time"

// SessionStatus is the run status of a session
type SessionStatus string

// Session statuses. Transitions only move forward within one run generation. A re-run
// starts a new generation at running, which is the one way a completed session goes back.
const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
)

// LogEntry is one line of a session's run log
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Session is one end-to-end pipeline run over one user-supplied input
type Session struct {
	ID           string        `json:"id"`
	ProjectName  string        `json:"project_name"`
	RawInput     string        `json:"raw_input"`
	OfferDetails string        `json:"offer_details"`
	Artifacts    []Artifact    `json:"artifacts"`
	Status       SessionStatus `json:"status"`
	Score        *int          `json:"score,omitempty"`
	TotalTokens  int           `json:"total_tokens"`
	TotalCost    float64       `json:"total_cost"`
	Timestamp    time.Time     `json:"timestamp"`
	Generation   int           `json:"generation"`
	Error        string        `json:"error,omitempty"`
	Logs         []LogEntry    `json:"logs,omitempty"`
}

// Artifact returns the artifact produced by role, if present
func (s *Session) Artifact(role Role) (Artifact, bool) {
	for _, a := range s.Artifacts {
		if a.Role == role {
			return a, true
		}
	}
	return Artifact{}, false
}

// HasRole reports whether an artifact for role is present
func (s *Session) HasRole(role Role) bool {
	_, ok := s.Artifact(role)
	return ok
}
