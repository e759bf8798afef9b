// Package pipeline orchestrates a session run: the root role, the concurrent fan-out
// roles, and the convergence role that scores the session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/brigade/internal/agent"
	"github.com/jonathan/brigade/internal/pipeline/steps"
	"github.com/jonathan/brigade/internal/session"
	"github.com/jonathan/brigade/internal/types"
	"golang.org/x/sync/errgroup"
)

// avatarHints steers the Copywriter toward the profiler's framing
const avatarHints = "Psychological Dynamic focus"

// Invoker runs one agent call
type Invoker interface {
	Invoke(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Orchestrator runs sessions through the registry topology
type Orchestrator struct {
	invoker       Invoker
	sessions      *session.Manager
	registry      steps.Provider
	broadcaster   *Broadcaster
	onProgress    ProgressCallback
	parallelLimit int
	now           func() time.Time
	logger        *slog.Logger

	wg sync.WaitGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRegistry sets the role topology provider
func WithRegistry(p steps.Provider) Option {
	return func(o *Orchestrator) { o.registry = p }
}

// WithBroadcaster publishes progress events to b
func WithBroadcaster(b *Broadcaster) Option {
	return func(o *Orchestrator) { o.broadcaster = b }
}

// WithProgress registers a progress callback
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.onProgress = cb }
}

// WithParallelLimit bounds concurrent fan-out calls. Zero or less means unbounded.
func WithParallelLimit(n int) Option {
	return func(o *Orchestrator) { o.parallelLimit = n }
}

// WithLogger overrides the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the artifact timestamp source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator
func New(invoker Invoker, sessions *session.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		invoker:  invoker,
		sessions: sessions,
		registry: steps.Default(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sessions returns the session manager
func (o *Orchestrator) Sessions() *session.Manager {
	return o.sessions
}

// Broadcaster returns the configured broadcaster, or nil
func (o *Orchestrator) Broadcaster() *Broadcaster {
	return o.broadcaster
}

// Run creates a session and executes it in the background. It returns the session id
// as soon as the session is stored.
func (o *Orchestrator) Run(ctx context.Context, rawInput, offer string) (string, error) {
	s, err := o.Prepare(ctx, rawInput, offer)
	if err != nil {
		return "", err
	}
	o.Start(ctx, s)
	return s.ID, nil
}

// Prepare validates the input and stores a new running session without executing it.
// Callers that need every progress event subscribe between Prepare and Start.
func (o *Orchestrator) Prepare(ctx context.Context, rawInput, offer string) (types.Session, error) {
	return o.create(ctx, rawInput, offer)
}

// Start executes a prepared session in the background
func (o *Orchestrator) Start(ctx context.Context, s types.Session) {
	o.background(ctx, s)
}

// RunSync creates a session and executes it, returning the settled session. A failed
// run returns the session in its failed state together with the stage error.
func (o *Orchestrator) RunSync(ctx context.Context, rawInput, offer string) (types.Session, error) {
	s, err := o.create(ctx, rawInput, offer)
	if err != nil {
		return types.Session{}, err
	}
	return o.settle(ctx, s)
}

// Rerun starts a new generation of session id from the root stage in the background.
// Results still in flight from the previous generation are discarded.
func (o *Orchestrator) Rerun(ctx context.Context, id string) (types.Session, error) {
	s, err := o.sessions.BeginRun(ctx, id)
	if err != nil && !errors.Is(err, session.ErrPersist) {
		return types.Session{}, err
	}
	o.background(ctx, s)
	return s, nil
}

// RerunSync is Rerun that blocks until the new generation settles
func (o *Orchestrator) RerunSync(ctx context.Context, id string) (types.Session, error) {
	s, err := o.sessions.BeginRun(ctx, id)
	if err != nil && !errors.Is(err, session.ErrPersist) {
		return types.Session{}, err
	}
	return o.settle(ctx, s)
}

// Wait blocks until all background runs have settled
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) create(ctx context.Context, rawInput, offer string) (types.Session, error) {
	if strings.TrimSpace(rawInput) == "" {
		return types.Session{}, ErrEmptyInput
	}
	s, err := o.sessions.Create(ctx, rawInput, offer)
	if err != nil && !errors.Is(err, session.ErrPersist) {
		return types.Session{}, err
	}
	if err != nil {
		o.logger.Warn("session created but not persisted", "session", s.ID, "error", err)
	}
	return s, nil
}

func (o *Orchestrator) background(ctx context.Context, s types.Session) {
	// the run outlives the request that started it
	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.execute(runCtx, s); err != nil {
			o.logger.Warn("run ended with error", "session", s.ID, "generation", s.Generation, "error", err)
		}
	}()
}

func (o *Orchestrator) settle(ctx context.Context, s types.Session) (types.Session, error) {
	runErr := o.execute(ctx, s)
	final, err := o.sessions.Get(s.ID)
	if err != nil {
		return types.Session{}, errors.Join(runErr, err)
	}
	return final, runErr
}

// execute runs one generation of a session. Every merge is tagged with the generation
// so the manager can discard results of a superseded run.
func (o *Orchestrator) execute(ctx context.Context, s types.Session) error {
	reg := o.registry.Current()
	if err := reg.Validate(); err != nil {
		return o.fail(ctx, s, steps.StageRoot, []error{err})
	}
	log := o.logger.With("session", s.ID, "generation", s.Generation)
	start := time.Now()

	o.emit(s, StepStarted, "", "Pipeline started", nil)
	o.record(ctx, s, "Pipeline started: ROOT, then PARALLEL, then CONVERGENCE")

	// ROOT
	root := reg.Root()
	o.record(ctx, s, fmt.Sprintf("Node: %s -> %s", root.Role, root.Title))
	rootRes, err := o.invoke(ctx, root, map[string]any{
		"input": s.RawInput,
		"offer": s.OfferDetails,
	})
	if err != nil {
		return o.fail(ctx, s, steps.StageRoot, []error{err})
	}
	rootArt := o.artifact(root, rootRes)
	if _, err := o.merge(ctx, s, []types.Artifact{rootArt}, false, 0); err != nil {
		return err
	}
	o.emit(s, string(root.Role), steps.StageRoot, rootRes.Summary, rootArt)
	log.Debug("root stage served", "role", root.Role, "tokens", rootRes.Tokens)

	// PARALLEL
	fanOut := reg.Parallel()
	names := make([]string, len(fanOut))
	for i, def := range fanOut {
		names[i] = string(def.Role)
	}
	o.record(ctx, s, "Parallel batch: "+strings.Join(names, ", "))

	results := make([]*agent.Result, len(fanOut))
	failures := make([]error, len(fanOut))
	var g errgroup.Group
	if o.parallelLimit > 0 {
		g.SetLimit(o.parallelLimit)
	}
	for i, def := range fanOut {
		g.Go(func() error {
			res, err := o.invoke(ctx, def, o.fanOutContext(def, s, rootRes))
			if err != nil {
				failures[i] = err
				o.emit(s, string(def.Role), steps.StageParallel, err.Error(), nil)
				return nil
			}
			results[i] = res
			o.emit(s, string(def.Role), steps.StageParallel, res.Summary, nil)
			return nil
		})
	}
	// every call settles before the barrier releases
	_ = g.Wait()

	var errs []error
	for _, f := range failures {
		if f != nil {
			errs = append(errs, f)
		}
	}
	if len(errs) > 0 {
		return o.fail(ctx, s, steps.StageParallel, errs)
	}

	batch := make([]types.Artifact, len(fanOut))
	for i, def := range fanOut {
		batch[i] = o.artifact(def, results[i])
	}
	current, err := o.merge(ctx, s, batch, false, 0)
	if err != nil {
		return err
	}

	// CONVERGENCE
	judge := reg.Convergence()
	if err := reg.ValidateDependencies(&current, judge.Role); err != nil {
		return o.fail(ctx, s, steps.StageConvergence, []error{err})
	}
	o.record(ctx, s, fmt.Sprintf("Node: %s -> %s", judge.Role, judge.Title))
	judgeRes, err := o.invoke(ctx, judge, map[string]any{"state": priorOutputs(current.Artifacts)})
	if err != nil {
		return o.fail(ctx, s, steps.StageConvergence, []error{err})
	}
	card, ok := judgeRes.Data.(types.ScoreCard)
	if !ok {
		return o.fail(ctx, s, steps.StageConvergence, []error{fmt.Errorf("%s returned no score card", judge.Role)})
	}
	stars, ok := card.Stars()
	if !ok {
		return o.fail(ctx, s, steps.StageConvergence, []error{fmt.Errorf("%s returned score %v outside 1-3", judge.Role, card.OverallScore)})
	}
	judgeArt := o.artifact(judge, judgeRes)
	final, err := o.merge(ctx, s, []types.Artifact{judgeArt}, true, stars)
	if err != nil {
		return err
	}

	o.emit(s, string(judge.Role), steps.StageConvergence, judgeRes.Summary, judgeArt)
	o.record(ctx, s, "Service converged. Dossier ready.")
	o.emit(s, StepCompleted, steps.StageConvergence, fmt.Sprintf("Converged with %d/3", stars), final)
	log.Info("run completed", "score", stars, "tokens", final.TotalTokens, "duration", time.Since(start))
	return nil
}

func (o *Orchestrator) invoke(ctx context.Context, def steps.StepDefinition, payload map[string]any) (*agent.Result, error) {
	mission, err := agent.Mission(def.MissionKey)
	if err != nil {
		return nil, &agent.InvocationError{Role: def.Role, Message: "unknown mission", Cause: err}
	}
	return o.invoker.Invoke(ctx, agent.Request{
		Role:        def.Role,
		Mission:     mission,
		DisplayType: def.DisplayType,
		Context:     payload,
		Tier:        def.Tier,
	})
}

// fanOutContext builds the role-specific payload of a parallel step
func (o *Orchestrator) fanOutContext(def steps.StepDefinition, s types.Session, root *agent.Result) map[string]any {
	payload := map[string]any{"evidence": root.Content}
	switch def.Role {
	case types.RoleCopywriter:
		payload["avatar_hints"] = avatarHints
	case types.RoleArchitect:
		payload["offer_details"] = s.OfferDetails
	case types.RoleCompetitorAnalyzer:
		payload["input"] = s.RawInput
	}
	return payload
}

// priorOutput is one entry of the convergence state
type priorOutput struct {
	Role           types.Role           `json:"role"`
	Content        string               `json:"content"`
	Summary        string               `json:"summary"`
	StructuredData types.StructuredData `json:"structuredData,omitempty"`
}

func priorOutputs(arts []types.Artifact) []priorOutput {
	out := make([]priorOutput, 0, len(arts))
	for _, a := range arts {
		out = append(out, priorOutput{
			Role:           a.Role,
			Content:        a.Content,
			Summary:        a.Summary,
			StructuredData: a.StructuredData,
		})
	}
	return out
}

func (o *Orchestrator) artifact(def steps.StepDefinition, res *agent.Result) types.Artifact {
	return types.Artifact{
		ID:             uuid.New().String(),
		Role:           def.Role,
		Title:          def.Title,
		Content:        res.Content,
		Summary:        res.Summary,
		Status:         types.ArtifactServed,
		DisplayType:    def.DisplayType,
		StructuredData: res.Data,
		Tokens:         res.Tokens,
		CreatedAt:      o.now(),
	}
}

// merge appends a stage result. A persistence failure is logged and the run continues
// on the in-memory state; any other error ends the run.
func (o *Orchestrator) merge(ctx context.Context, s types.Session, arts []types.Artifact, complete bool, score int) (types.Session, error) {
	next, err := o.sessions.Append(ctx, s.ID, s.Generation, arts, complete, score)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, session.ErrPersist):
		o.logger.Warn("stage result not persisted", "session", s.ID, "error", err)
		return next, nil
	case errors.Is(err, session.ErrStaleGeneration), errors.Is(err, session.ErrNotFound):
		o.discard(s)
		return types.Session{}, err
	default:
		return types.Session{}, fmt.Errorf("failed to merge stage result: %w", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, s types.Session, stage steps.Stage, failures []error) error {
	stageErr := &StageError{Stage: stage, Failures: failures}
	o.logger.Error("run failed", "session", s.ID, "generation", s.Generation, "stage", stage, "error", stageErr)

	if err := o.sessions.Fail(ctx, s.ID, s.Generation, stageErr.Error()); err != nil && !errors.Is(err, session.ErrPersist) {
		o.logger.Info("failure not recorded", "session", s.ID, "error", err)
	}
	o.emit(s, StepFailed, stage, stageErr.Error(), nil)
	return stageErr
}

// discard ends a generation whose results can no longer be merged
func (o *Orchestrator) discard(s types.Session) {
	message := "session deleted"
	if current, err := o.sessions.Get(s.ID); err == nil {
		message = fmt.Sprintf("superseded by generation %d", current.Generation)
	}
	o.logger.Info("discarding superseded run", "session", s.ID, "generation", s.Generation, "reason", message)
	o.emit(s, StepDiscarded, "", message, nil)
}

// record appends to the session log. Logging failures never abort a run.
func (o *Orchestrator) record(ctx context.Context, s types.Session, message string) {
	if err := o.sessions.Log(ctx, s.ID, s.Generation, message); err != nil && !errors.Is(err, session.ErrPersist) {
		o.logger.Debug("log entry dropped", "session", s.ID, "error", err)
	}
}

func (o *Orchestrator) emit(s types.Session, step string, stage steps.Stage, message string, content any) {
	event := ProgressEvent{
		Step:       step,
		Stage:      stage,
		Message:    message,
		SessionID:  s.ID,
		Generation: s.Generation,
		Content:    content,
	}
	if o.onProgress != nil {
		o.onProgress(event)
	}
	if o.broadcaster != nil {
		o.broadcaster.Publish(event)
	}
}
