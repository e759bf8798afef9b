package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/brigade/internal/agent"
	"github.com/jonathan/brigade/internal/llm/llmtest"
	"github.com/jonathan/brigade/internal/pipeline/steps"
	"github.com/jonathan/brigade/internal/session"
	"github.com/jonathan/brigade/internal/store"
	"github.com/jonathan/brigade/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	coachingInput = "I sell a $2k coaching program to burned-out founders"
	coachingOffer = "12-week program, $2,000"
)

var replies = map[types.Role]string{
	types.RoleExtractor:          `{"content":"Founders, burnout, $2k price","summary":"Evidence mapped","structuredData":{"headers":["Fact","Source"],"rows":[["Audience: burned-out founders","input"],["Price: $2,000","offer"]]}}`,
	types.RoleProfiler:           `{"content":"Identity tension between ambition and exhaustion","summary":"Status under threat","structuredData":{"q1":{"label":"Ego","items":["Founder identity"]},"q2":{"label":"Risk","items":["Losing the company"]},"q3":{"label":"Validation","items":["Peer respect"]},"q4":{"label":"Relief","items":["Permission to rest"]}}}`,
	types.RoleCopywriter:         `{"content":"# Hooks\n- You built it. Now let it carry you.","summary":"Lead with earned rest"}`,
	types.RoleArchitect:          `{"content":"Program design","summary":"Three-phase recovery","structuredData":{"ingredients":["Weekly 1:1","Peer circle"],"steps":["Audit energy","Delegate","Rebuild cadence"]}}`,
	types.RoleCompetitorAnalyzer: `{"content":"Alternatives","summary":"Therapy and do-nothing","structuredData":{"headers":["Alternative","Weakness"],"rows":[["Therapy","Not business-aware"]]}}`,
	types.RoleJudge:              `{"content":"Synthesis","summary":"Ready to sell","structuredData":{"overallScore":3,"metrics":[{"label":"Clarity","score":9,"advice":"Keep the hook"},{"label":"Offer fit","score":8,"advice":"Add a guarantee"}]}}`,
}

func marker(role types.Role) string {
	return "Role: " + string(role) + "\n"
}

func scriptedStub() *llmtest.Stub {
	stub := llmtest.NewStub()
	for role, text := range replies {
		stub.On(marker(role), llmtest.Reply{Text: text})
	}
	return stub
}

type fixture struct {
	stub     *llmtest.Stub
	store    *store.MemoryStore
	sessions *session.Manager
	orch     *Orchestrator

	mu     sync.Mutex
	events []ProgressEvent
}

func newFixture(t *testing.T, stub *llmtest.Stub, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{stub: stub, store: store.NewMemoryStore()}
	mgr, err := session.NewManager(context.Background(), f.store)
	require.NoError(t, err)
	f.sessions = mgr

	opts = append([]Option{WithProgress(func(e ProgressEvent) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
	})}, opts...)
	f.orch = New(agent.NewInvoker(stub), mgr, opts...)
	return f
}

func (f *fixture) recorded() []ProgressEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ProgressEvent(nil), f.events...)
}

func roles(arts []types.Artifact) []types.Role {
	out := make([]types.Role, len(arts))
	for i, a := range arts {
		out[i] = a.Role
	}
	return out
}

func TestRunSync_CoachingScenario(t *testing.T) {
	f := newFixture(t, scriptedStub())

	s, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)

	assert.Equal(t, types.SessionCompleted, s.Status)
	assert.Equal(t, "I sell a $2k coaching program...", s.ProjectName)
	assert.Equal(t, []types.Role{
		types.RoleExtractor, types.RoleProfiler, types.RoleCopywriter, types.RoleArchitect, types.RoleJudge,
	}, roles(s.Artifacts))
	require.NotNil(t, s.Score)
	assert.Equal(t, 3, *s.Score)
	assert.Empty(t, s.Error)

	assert.Equal(t, session.TotalTokens(s.Artifacts), s.TotalTokens)
	assert.InDelta(t, float64(s.TotalTokens)/1e6*0.5, s.TotalCost, 1e-12)

	judges := 0
	for _, a := range s.Artifacts {
		assert.Equal(t, types.ArtifactServed, a.Status)
		assert.Greater(t, a.Tokens, 0)
		if a.Role == types.RoleJudge {
			judges++
		}
		if a.DisplayType.RequiresData() {
			require.NotNil(t, a.StructuredData, "role %s", a.Role)
			assert.Equal(t, a.DisplayType, a.StructuredData.DisplayType())
		}
	}
	assert.Equal(t, 1, judges)

	profile, ok := s.Artifact(types.RoleProfiler)
	require.True(t, ok)
	assert.Equal(t, "Psychological Profile", profile.Title)
	matrix, ok := profile.StructuredData.(types.Matrix)
	require.True(t, ok)
	assert.Equal(t, "Ego", matrix.Q1.Label)

	// the snapshot reflects the completed session
	persisted, err := f.store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, types.SessionCompleted, persisted[0].Status)
	assert.Len(t, persisted[0].Artifacts, 5)
}

func TestRunSync_StageOrderIndependentOfCompletionOrder(t *testing.T) {
	stub := scriptedStub()
	stub.On(marker(types.RoleProfiler), llmtest.Reply{Text: replies[types.RoleProfiler], Delay: 80 * time.Millisecond})
	stub.On(marker(types.RoleArchitect), llmtest.Reply{Text: replies[types.RoleArchitect], Delay: 40 * time.Millisecond})
	f := newFixture(t, stub)

	s, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)
	assert.Equal(t, []types.Role{
		types.RoleExtractor, types.RoleProfiler, types.RoleCopywriter, types.RoleArchitect, types.RoleJudge,
	}, roles(s.Artifacts))
}

func TestRunSync_ContextPayloads(t *testing.T) {
	f := newFixture(t, scriptedStub())
	_, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)

	extractor := f.stub.CallsMatching(marker(types.RoleExtractor))
	require.Len(t, extractor, 1)
	assert.Contains(t, extractor[0].Prompt, `"input": "`+coachingInput+`"`)
	assert.Contains(t, extractor[0].Prompt, `"offer": "`+coachingOffer+`"`)

	for _, role := range []types.Role{types.RoleProfiler, types.RoleCopywriter, types.RoleArchitect} {
		calls := f.stub.CallsMatching(marker(role))
		require.Len(t, calls, 1, "role %s", role)
		assert.Contains(t, calls[0].Prompt, `"evidence": "Founders, burnout, $2k price"`)
	}
	assert.Contains(t, f.stub.CallsMatching(marker(types.RoleCopywriter))[0].Prompt, `"avatar_hints": "Psychological Dynamic focus"`)
	assert.Contains(t, f.stub.CallsMatching(marker(types.RoleArchitect))[0].Prompt, `"offer_details": "`+coachingOffer+`"`)
	assert.NotContains(t, f.stub.CallsMatching(marker(types.RoleProfiler))[0].Prompt, "offer_details")

	judge := f.stub.CallsMatching(marker(types.RoleJudge))
	require.Len(t, judge, 1)
	prompt := judge[0].Prompt
	assert.Contains(t, prompt, `"state": [`)
	// prior outputs appear in artifact order
	last := -1
	for _, content := range []string{"Founders, burnout", "Identity tension", "# Hooks", "Program design"} {
		idx := strings.Index(prompt, content)
		require.GreaterOrEqual(t, idx, 0, "judge state should contain %q", content)
		assert.Greater(t, idx, last)
		last = idx
	}
}

func TestRunSync_ParallelFailureSkipsJudge(t *testing.T) {
	stub := scriptedStub()
	stub.On(marker(types.RoleArchitect), llmtest.Reply{Err: errors.New("quota exceeded")})
	stub.On(marker(types.RoleProfiler), llmtest.Reply{Text: "not json at all"})
	f := newFixture(t, stub)

	s, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, steps.StageParallel, stageErr.Stage)
	assert.Len(t, stageErr.Failures, 2)

	var ie *agent.InvocationError
	assert.ErrorAs(t, err, &ie)
	var pe *agent.ParseError
	assert.ErrorAs(t, err, &pe)

	assert.Empty(t, stub.CallsMatching(marker(types.RoleJudge)), "judge must not run after a parallel failure")
	// the surviving copywriter call still settled
	assert.Len(t, stub.CallsMatching(marker(types.RoleCopywriter)), 1)

	assert.Equal(t, types.SessionRunning, s.Status)
	assert.Nil(t, s.Score)
	assert.Contains(t, s.Error, "Architect")
	assert.Contains(t, s.Error, "Profiler")
	assert.Equal(t, []types.Role{types.RoleExtractor}, roles(s.Artifacts), "root artifact is kept, nothing from the failed batch")
}

func TestRunSync_RootFailure(t *testing.T) {
	stub := scriptedStub()
	stub.On(marker(types.RoleExtractor), llmtest.Reply{Err: errors.New("connection reset")})
	f := newFixture(t, stub)

	s, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.Error(t, err)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, steps.StageRoot, stageErr.Stage)

	assert.Len(t, stub.Calls(), 1)
	assert.Empty(t, s.Artifacts)
	assert.Equal(t, types.SessionRunning, s.Status)
	assert.NotEmpty(t, s.Error)
}

func TestRunSync_JudgeFailureKeepsPriorArtifacts(t *testing.T) {
	stub := scriptedStub()
	stub.On(marker(types.RoleJudge), llmtest.Reply{Text: `{"content":"x","summary":"y","structuredData":{"overallScore":7,"metrics":[{"label":"a","score":1,"advice":"b"}]}}`})
	f := newFixture(t, stub)

	s, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.Error(t, err)
	var pe *agent.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, types.RoleJudge, pe.Role)

	assert.Len(t, s.Artifacts, 4)
	assert.Equal(t, types.SessionRunning, s.Status)
	assert.Nil(t, s.Score)
	assert.Contains(t, s.Error, "CONVERGENCE")
}

func TestRunSync_Deterministic(t *testing.T) {
	first := newFixture(t, scriptedStub())
	second := newFixture(t, scriptedStub())

	a, err := first.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)
	b, err := second.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)

	require.Len(t, b.Artifacts, len(a.Artifacts))
	for i := range a.Artifacts {
		assert.Equal(t, a.Artifacts[i].Role, b.Artifacts[i].Role)
		assert.Equal(t, a.Artifacts[i].Content, b.Artifacts[i].Content)
		assert.Equal(t, a.Artifacts[i].Summary, b.Artifacts[i].Summary)
		assert.Equal(t, a.Artifacts[i].StructuredData, b.Artifacts[i].StructuredData)
		assert.Equal(t, a.Artifacts[i].Tokens, b.Artifacts[i].Tokens)
	}
	assert.Equal(t, a.TotalTokens, b.TotalTokens)
	assert.Equal(t, *a.Score, *b.Score)

	// identical inputs produce identical instruction blocks
	for _, role := range []types.Role{types.RoleExtractor, types.RoleJudge} {
		assert.Equal(t, first.stub.CallsMatching(marker(role))[0].Prompt, second.stub.CallsMatching(marker(role))[0].Prompt)
	}
}

func TestRunSync_FencedResponsesRecovered(t *testing.T) {
	stub := llmtest.NewStub()
	for role, text := range replies {
		stub.On(marker(role), llmtest.Reply{Text: "```json\n" + text + "\n```"})
	}
	f := newFixture(t, stub)
	plain := newFixture(t, scriptedStub())

	s, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)
	p, err := plain.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)

	for i := range s.Artifacts {
		assert.Equal(t, p.Artifacts[i].Content, s.Artifacts[i].Content)
		assert.Equal(t, p.Artifacts[i].StructuredData, s.Artifacts[i].StructuredData)
	}
}

func TestRunSync_CompetitorAnalyzer(t *testing.T) {
	f := newFixture(t, scriptedStub(), WithRegistry(steps.Default().WithCompetitorAnalyzer()))

	s, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)
	assert.Equal(t, []types.Role{
		types.RoleExtractor, types.RoleProfiler, types.RoleCompetitorAnalyzer, types.RoleCopywriter, types.RoleArchitect, types.RoleJudge,
	}, roles(s.Artifacts))

	calls := f.stub.CallsMatching(marker(types.RoleCompetitorAnalyzer))
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, `"input": "`+coachingInput+`"`)
}

func TestRunSync_ParallelLimit(t *testing.T) {
	f := newFixture(t, scriptedStub(), WithParallelLimit(1))
	s, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, s.Status)
}

func TestRun_EmptyInput(t *testing.T) {
	f := newFixture(t, scriptedStub())
	_, err := f.orch.Run(context.Background(), "   ", coachingOffer)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, f.sessions.List())
}

func TestRun_Async(t *testing.T) {
	f := newFixture(t, scriptedStub())

	ctx, cancel := context.WithCancel(context.Background())
	id, err := f.orch.Run(ctx, coachingInput, coachingOffer)
	require.NoError(t, err)
	// cancelling the caller's context does not stop the background run
	cancel()
	f.orch.Wait()

	s, err := f.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, s.Status)

	events := f.recorded()
	require.NotEmpty(t, events)
	assert.Equal(t, StepStarted, events[0].Step)
	assert.Equal(t, StepCompleted, events[len(events)-1].Step)
	assert.Equal(t, string(types.RoleExtractor), events[1].Step)
	for _, e := range events {
		assert.Equal(t, id, e.SessionID)
		assert.Equal(t, 1, e.Generation)
	}
}

func TestRerun_DiscardsSupersededGeneration(t *testing.T) {
	stub := scriptedStub()
	stub.On(marker(types.RoleExtractor), llmtest.Reply{Text: replies[types.RoleExtractor], Delay: 50 * time.Millisecond})
	f := newFixture(t, stub)
	ctx := context.Background()

	id, err := f.orch.Run(ctx, coachingInput, coachingOffer)
	require.NoError(t, err)
	restarted, err := f.orch.Rerun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, restarted.Generation)
	f.orch.Wait()

	s, err := f.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Generation)
	assert.Equal(t, types.SessionCompleted, s.Status)
	assert.Len(t, s.Artifacts, 5, "only the current generation's artifacts are kept")
	assert.Equal(t, session.TotalTokens(s.Artifacts), s.TotalTokens)

	// generation 1 never reached the judge
	assert.Len(t, stub.CallsMatching(marker(types.RoleJudge)), 1)
}

// terminalSteps returns the last completed, failed or discarded step per generation
func terminalSteps(events []ProgressEvent) map[int]ProgressEvent {
	out := make(map[int]ProgressEvent)
	for _, e := range events {
		switch e.Step {
		case StepCompleted, StepFailed, StepDiscarded:
			out[e.Generation] = e
		}
	}
	return out
}

func TestRerun_SupersededGenerationIsDiscarded(t *testing.T) {
	stub := scriptedStub()
	stub.On(marker(types.RoleExtractor), llmtest.Reply{Text: replies[types.RoleExtractor], Delay: 50 * time.Millisecond})
	f := newFixture(t, stub)
	ctx := context.Background()

	id, err := f.orch.Run(ctx, coachingInput, coachingOffer)
	require.NoError(t, err)
	_, err = f.orch.Rerun(ctx, id)
	require.NoError(t, err)
	f.orch.Wait()

	terminal := terminalSteps(f.recorded())
	require.Len(t, terminal, 2, "every generation ends with a terminal event")
	assert.Equal(t, StepDiscarded, terminal[1].Step)
	assert.Equal(t, "superseded by generation 2", terminal[1].Message)
	assert.Equal(t, id, terminal[1].SessionID)
	assert.Equal(t, StepCompleted, terminal[2].Step)
}

func TestRun_DeletedSessionIsDiscarded(t *testing.T) {
	stub := scriptedStub()
	stub.On(marker(types.RoleExtractor), llmtest.Reply{Text: replies[types.RoleExtractor], Delay: 50 * time.Millisecond})
	f := newFixture(t, stub)
	ctx := context.Background()

	id, err := f.orch.Run(ctx, coachingInput, coachingOffer)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Delete(ctx, id))
	f.orch.Wait()

	terminal := terminalSteps(f.recorded())
	require.Contains(t, terminal, 1)
	assert.Equal(t, StepDiscarded, terminal[1].Step)
	assert.Equal(t, "session deleted", terminal[1].Message)
	assert.Empty(t, stub.CallsMatching(marker(types.RoleProfiler)))
}

func TestRerunSync_AfterFailure(t *testing.T) {
	stub := scriptedStub()
	stub.On(marker(types.RoleCopywriter), llmtest.Reply{Err: errors.New("overloaded")})
	f := newFixture(t, stub)
	ctx := context.Background()

	failed, err := f.orch.RunSync(ctx, coachingInput, coachingOffer)
	require.Error(t, err)
	assert.NotEmpty(t, failed.Error)

	stub.On(marker(types.RoleCopywriter), llmtest.Reply{Text: replies[types.RoleCopywriter]})
	s, err := f.orch.RerunSync(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, s.ID)
	assert.Equal(t, 2, s.Generation)
	assert.Empty(t, s.Error)
	assert.Equal(t, types.SessionCompleted, s.Status)
	assert.Len(t, s.Artifacts, 5)
}

func TestRerun_UnknownSession(t *testing.T) {
	f := newFixture(t, scriptedStub())
	_, err := f.orch.Rerun(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRun_InvalidRegistry(t *testing.T) {
	f := newFixture(t, scriptedStub(), WithRegistry(&steps.Registry{}))
	s, err := f.orch.RunSync(context.Background(), coachingInput, coachingOffer)
	require.Error(t, err)
	assert.Empty(t, f.stub.Calls())
	assert.NotEmpty(t, s.Error)
}

func TestRun_BroadcasterReceivesEvents(t *testing.T) {
	b := NewBroadcaster(64)
	f := newFixture(t, scriptedStub(), WithBroadcaster(b))

	s, err := f.orch.Prepare(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)
	events, cancel := b.Subscribe(s.ID)
	defer cancel()
	f.orch.Start(context.Background(), s)

	var seen []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			seen = append(seen, e.Step)
			if e.Step != StepCompleted {
				continue
			}
			assert.Equal(t, StepStarted, seen[0])
			assert.Equal(t, string(types.RoleExtractor), seen[1])
			assert.Contains(t, seen, string(types.RoleProfiler))
			assert.Equal(t, string(types.RoleJudge), seen[len(seen)-2])
			f.orch.Wait()
			return
		case <-timeout:
			t.Fatal("no completion event received")
		}
	}
}

func TestPrepare_DoesNotExecute(t *testing.T) {
	f := newFixture(t, scriptedStub())

	s, err := f.orch.Prepare(context.Background(), coachingInput, coachingOffer)
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, s.Status)
	assert.Empty(t, f.stub.Calls())

	_, err = f.orch.Prepare(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}
