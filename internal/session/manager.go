package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/brigade/internal/store"
	"github.com/jonathan/brigade/internal/types"
	"github.com/jonathan/brigade/internal/usage"
)

// Manager owns the session collection. Every mutation is an atomic read-modify-write
// under one lock followed by a snapshot save.
type Manager struct {
	mu             sync.Mutex
	sessions       map[string]types.Session
	order          []string // creation order
	store          store.Store
	costPerMillion float64
	now            func() time.Time
	logger         *slog.Logger
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithCostPerMillion sets the USD price per million tokens
func WithCostPerMillion(rate float64) ManagerOption {
	return func(m *Manager) { m.costPerMillion = rate }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger overrides the logger
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager loads the collection from st
func NewManager(ctx context.Context, st store.Store, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		sessions:       make(map[string]types.Session),
		store:          st,
		costPerMillion: usage.DefaultCostPerMillion,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	loaded, err := st.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].Timestamp.Before(loaded[j].Timestamp)
	})
	for _, s := range loaded {
		if _, dup := m.sessions[s.ID]; dup {
			continue
		}
		m.sessions[s.ID] = s
		m.order = append(m.order, s.ID)
	}
	m.logger.Debug("sessions loaded", "count", len(m.order))
	return m, nil
}

// CostPerMillion returns the configured token price
func (m *Manager) CostPerMillion() float64 {
	return m.costPerMillion
}

// Create adds a new running session and persists it
func (m *Manager) Create(ctx context.Context, raw, offer string) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := NewSession(raw, offer, m.now())
	s.Logs = append(s.Logs, types.LogEntry{Time: s.Timestamp, Message: "session created"})
	m.sessions[s.ID] = s
	m.order = append(m.order, s.ID)

	if err := m.saveLocked(ctx); err != nil {
		return s, err
	}
	return clone(s), nil
}

// Append merges arts into session id if generation is still current
func (m *Manager) Append(ctx context.Context, id string, generation int, arts []types.Artifact, markComplete bool, score int) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.currentLocked(id, generation)
	if err != nil {
		return types.Session{}, err
	}
	next, err := AppendArtifacts(s, arts, markComplete, score, m.costPerMillion)
	if err != nil {
		return types.Session{}, err
	}
	m.sessions[id] = next

	if err := m.saveLocked(ctx); err != nil {
		return clone(next), err
	}
	return clone(next), nil
}

// Fail records the consolidated error of a run. The session stays running.
func (m *Manager) Fail(ctx context.Context, id string, generation int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.currentLocked(id, generation)
	if err != nil {
		return err
	}
	s.Error = message
	s.Logs = append(s.Logs, types.LogEntry{Time: m.now(), Message: "run failed: " + message})
	m.sessions[id] = s
	return m.saveLocked(ctx)
}

// Log appends a run log line for generation
func (m *Manager) Log(ctx context.Context, id string, generation int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.currentLocked(id, generation)
	if err != nil {
		return err
	}
	s.Logs = append(s.Logs, types.LogEntry{Time: m.now(), Message: message})
	m.sessions[id] = s
	return m.saveLocked(ctx)
}

// BeginRun starts a new generation for an existing session and returns it
func (m *Manager) BeginRun(ctx context.Context, id string) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := Restart(s)
	next.Logs = append(next.Logs, types.LogEntry{
		Time:    m.now(),
		Message: fmt.Sprintf("re-run started (generation %d)", next.Generation),
	})
	m.sessions[id] = next

	if err := m.saveLocked(ctx); err != nil {
		return clone(next), err
	}
	return clone(next), nil
}

// Get returns a copy of session id
func (m *Manager) Get(id string) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(s), nil
}

// List returns all sessions, newest first
func (m *Manager) List() []types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Session, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, clone(m.sessions[m.order[i]]))
	}
	return out
}

// Delete removes session id. Results of its in-flight run are discarded.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.sessions, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return m.saveLocked(ctx)
}

func (m *Manager) currentLocked(id string, generation int) (types.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Generation != generation {
		return types.Session{}, fmt.Errorf("%w: session %s is at generation %d, got %d", ErrStaleGeneration, id, s.Generation, generation)
	}
	return s, nil
}

// saveLocked persists the snapshot. The in-memory state stays authoritative on failure.
func (m *Manager) saveLocked(ctx context.Context) error {
	snapshot := make([]types.Session, 0, len(m.order))
	for _, id := range m.order {
		snapshot = append(snapshot, m.sessions[id])
	}
	if err := m.store.SaveAll(ctx, snapshot); err != nil {
		m.logger.Error("failed to persist sessions", "error", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// clone copies the slices of s so callers cannot alias manager state
func clone(s types.Session) types.Session {
	out := s
	out.Artifacts = append([]types.Artifact(nil), s.Artifacts...)
	if out.Artifacts == nil {
		out.Artifacts = []types.Artifact{}
	}
	out.Logs = append([]types.LogEntry(nil), s.Logs...)
	if s.Score != nil {
		sc := *s.Score
		out.Score = &sc
	}
	return out
}
