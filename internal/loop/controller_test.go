package loop

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3wi/takopi-ralph/internal/agent"
	"github.com/l3wi/takopi-ralph/internal/analysis"
	"github.com/l3wi/takopi-ralph/internal/backlog"
	"github.com/l3wi/takopi-ralph/internal/breaker"
	"github.com/l3wi/takopi-ralph/internal/state"
)

// sessionFunc adapts a function to the agent.Session interface.
type sessionFunc func(ctx context.Context, req agent.Request) (*agent.Response, error)

func (f sessionFunc) Run(ctx context.Context, req agent.Request) (*agent.Response, error) {
	return f(ctx, req)
}

// scriptedSession replays canned response texts in order, recording the
// prompts it received. Calls past the script repeat the last response.
type scriptedSession struct {
	responses []string
	prompts   []string
	calls     int
}

func (s *scriptedSession) Run(_ context.Context, req agent.Request) (*agent.Response, error) {
	s.prompts = append(s.prompts, req.Prompt)
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	text := s.responses[idx]
	return &agent.Response{Text: text, Fragments: []string{text}}, nil
}

func respond(status string, tasks int, storyIDs, exitSignal string) string {
	return fmt.Sprintf(`Some agent narration about the work.

%s
STATUS: %s
TASKS_COMPLETED_THIS_LOOP: %d
COMPLETED_STORY_IDS: %s
FILES_MODIFIED: 1
TESTS_STATUS: PASSING
WORK_TYPE: IMPLEMENTATION
EXIT_SIGNAL: %s
RECOMMENDATION: keep going
%s`, analysis.BlockStart, status, tasks, storyIDs, exitSignal, analysis.BlockEnd)
}

type fixture struct {
	controller   *Controller
	backlogStore *backlog.Store
	stateStore   *state.Store
	out          *bytes.Buffer
}

func newFixture(t *testing.T, session agent.Session, stories ...backlog.Story) *fixture {
	t.Helper()
	dir := t.TempDir()

	backlogStore := backlog.NewStore(filepath.Join(dir, "prd.json"))
	require.NoError(t, backlogStore.Save(&backlog.Backlog{
		ProjectName: "demo",
		Stories:     stories,
	}))

	stateStore := state.NewStore(filepath.Join(dir, "state.json"))
	out := &bytes.Buffer{}

	controller := NewController(Deps{
		Backlog: backlogStore,
		State:   stateStore,
		Session: session,
		WorkDir: dir,
		Out:     out,
	})
	return &fixture{controller: controller, backlogStore: backlogStore, stateStore: stateStore, out: out}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func twoStories() []backlog.Story {
	return []backlog.Story{
		{ID: 1, Title: "First story"},
		{ID: 2, Title: "Second story"},
	}
}

func TestController_Start_CompletesBacklog(t *testing.T) {
	session := &scriptedSession{responses: []string{
		respond("IN_PROGRESS", 1, "1", "false"),
		respond("COMPLETE", 1, "2", "true"),
	}}
	f := newFixture(t, session, twoStories()...)

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, summary.Outcome)
	assert.Equal(t, state.StatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.IterationsRun)
	assert.Equal(t, 2, summary.LoopNumber)
	assert.Equal(t, 2, session.calls)

	b, err := f.backlogStore.Load()
	require.NoError(t, err)
	assert.True(t, b.AllComplete())
	for _, story := range b.Stories {
		assert.NotNil(t, story.CompletedAt)
	}

	st, err := f.stateStore.Load()
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, st.Status)
	assert.Len(t, st.History, 2)
}

func TestController_Start_FreshContextEveryLoop(t *testing.T) {
	session := &scriptedSession{responses: []string{
		respond("IN_PROGRESS", 1, "1", "false"),
		respond("COMPLETE", 1, "2", "true"),
	}}
	f := newFixture(t, session, twoStories()...)

	_, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	// Every prompt carries the full project context; nothing relies on
	// agent memory between invocations.
	require.Len(t, session.prompts, 2)
	assert.Contains(t, session.prompts[0], "# Loop #1")
	assert.Contains(t, session.prompts[0], "Story #1: First story")
	assert.Contains(t, session.prompts[1], "# Loop #2")
	assert.Contains(t, session.prompts[1], "Story #2: Second story")
	for _, p := range session.prompts {
		assert.Contains(t, p, "Project: demo")
		assert.Contains(t, p, analysis.BlockStart)
	}
}

func TestController_Start_SatisfiedBacklogSkipsAgent(t *testing.T) {
	session := &scriptedSession{responses: []string{respond("COMPLETE", 0, "none", "true")}}
	f := newFixture(t, session,
		backlog.Story{ID: 1, Title: "Done already", Passes: true},
	)

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, summary.Outcome)
	assert.Equal(t, 0, summary.IterationsRun)
	assert.Equal(t, 0, session.calls)
}

func TestController_Start_EmptyBacklogIsWarning(t *testing.T) {
	session := &scriptedSession{responses: []string{respond("COMPLETE", 0, "none", "true")}}
	f := newFixture(t, session)

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeEmptyBacklog, summary.Outcome)
	assert.Equal(t, state.StatusIdle, summary.Status)
	assert.Equal(t, 0, session.calls)
	assert.Contains(t, summary.Message, "no stories")

	st, err := f.stateStore.Load()
	require.NoError(t, err)
	assert.Equal(t, state.StatusIdle, st.Status)
}

func TestController_Start_MissingBacklogIsFatal(t *testing.T) {
	dir := t.TempDir()
	controller := NewController(Deps{
		Backlog: backlog.NewStore(filepath.Join(dir, "prd.json")),
		State:   state.NewStore(filepath.Join(dir, "state.json")),
		Session: &scriptedSession{responses: []string{"irrelevant"}},
	})

	_, err := controller.Start(context.Background(), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, backlog.ErrBacklog)
}

func TestController_Start_BreakerTripsOnNoProgress(t *testing.T) {
	session := &scriptedSession{responses: []string{
		respond("IN_PROGRESS", 0, "none", "false"),
	}}
	f := newFixture(t, session, twoStories()...)

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeHalted, summary.Outcome)
	assert.Equal(t, state.StatusHalted, summary.Status)
	assert.Equal(t, 3, summary.IterationsRun)
	assert.Contains(t, f.out.String(), "circuit breaker tripped")

	st, err := f.stateStore.Load()
	require.NoError(t, err)
	assert.Equal(t, state.StatusHalted, st.Status)
	assert.Equal(t, 3, st.Counters.NoProgress)

	// Backlog untouched by the halt.
	b, err := f.backlogStore.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, b.CompletedCount())

	t.Run("halted loop refuses to start until reset", func(t *testing.T) {
		_, err := f.controller.Start(context.Background(), 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCircuitTripped)
		assert.Equal(t, 3, session.calls)
	})

	t.Run("stop request does not clear the halt", func(t *testing.T) {
		_, err := f.controller.RequestStop()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCircuitTripped)

		st, err := f.stateStore.Load()
		require.NoError(t, err)
		assert.Equal(t, state.StatusHalted, st.Status)

		_, err = f.controller.Start(context.Background(), 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCircuitTripped)
		assert.Equal(t, 3, session.calls)
	})

	t.Run("reset clears the halt", func(t *testing.T) {
		require.NoError(t, f.controller.Reset())

		st, err := f.stateStore.Load()
		require.NoError(t, err)
		assert.Equal(t, state.StatusIdle, st.Status)
		assert.Equal(t, state.Counters{}, st.Counters)
		assert.Equal(t, 3, st.LoopNumber)

		summary, err := f.controller.Start(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, OutcomePaused, summary.Outcome)
		assert.Equal(t, 4, summary.LoopNumber)
	})
}

func TestController_Start_BreakerTripsOnConflictingDone(t *testing.T) {
	session := &scriptedSession{responses: []string{
		respond("COMPLETE", 1, "none", "true"),
	}}
	f := newFixture(t, session, twoStories()...)

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeHalted, summary.Outcome)
	assert.Equal(t, 2, summary.IterationsRun)

	st, err := f.stateStore.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Counters.DoneSignals)
}

func TestController_Start_PausesAtBudget(t *testing.T) {
	// Progress every loop without completing stories keeps the breaker quiet.
	session := &scriptedSession{responses: []string{
		respond("IN_PROGRESS", 1, "none", "false"),
	}}
	f := newFixture(t, session, twoStories()...)

	summary, err := f.controller.Start(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, OutcomePaused, summary.Outcome)
	assert.Equal(t, state.StatusPaused, summary.Status)
	assert.Equal(t, 2, summary.IterationsRun)
	assert.Equal(t, 2, summary.LoopNumber)

	t.Run("resume continues loop numbering", func(t *testing.T) {
		summary, err := f.controller.Start(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 3, summary.LoopNumber)
		assert.Contains(t, session.prompts[2], "# Loop #3")
	})
}

func TestController_Start_ClampsIterationBudget(t *testing.T) {
	session := &scriptedSession{responses: []string{
		respond("IN_PROGRESS", 1, "none", "false"),
	}}
	f := newFixture(t, session, twoStories()...)

	summary, err := f.controller.Start(context.Background(), 10000)
	require.NoError(t, err)

	assert.Equal(t, OutcomePaused, summary.Outcome)
	assert.Equal(t, DefaultMaxIterations, summary.IterationsRun)
}

func TestController_Start_ZeroThresholdsDisableBreaker(t *testing.T) {
	session := &scriptedSession{responses: []string{
		respond("IN_PROGRESS", 0, "none", "false"),
	}}
	dir := t.TempDir()

	backlogStore := backlog.NewStore(filepath.Join(dir, "prd.json"))
	require.NoError(t, backlogStore.Save(&backlog.Backlog{
		ProjectName: "demo",
		Stories:     twoStories(),
	}))

	controller := NewController(Deps{
		Backlog:    backlogStore,
		State:      state.NewStore(filepath.Join(dir, "state.json")),
		Session:    session,
		Thresholds: &breaker.Thresholds{},
	})

	summary, err := controller.Start(context.Background(), 5)
	require.NoError(t, err)

	// An explicit zero threshold disables the check rather than falling
	// back to defaults, so the no-progress streak never halts the loop.
	assert.Equal(t, OutcomePaused, summary.Outcome)
	assert.Equal(t, 5, summary.IterationsRun)
}

func TestController_Start_ExternalStopHonoredAtBoundary(t *testing.T) {
	f := newFixture(t, nil, twoStories()...)

	// Simulate an operator recording a stop while the agent is running.
	session := sessionFunc(func(_ context.Context, _ agent.Request) (*agent.Response, error) {
		st, err := f.stateStore.Load()
		if err != nil {
			return nil, err
		}
		st.Status = state.StatusPaused
		if err := f.stateStore.Save(st); err != nil {
			return nil, err
		}
		return &agent.Response{Text: respond("IN_PROGRESS", 1, "none", "false")}, nil
	})
	f.controller.session = session

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeStopped, summary.Outcome)
	assert.Equal(t, state.StatusPaused, summary.Status)
	assert.Equal(t, 1, summary.IterationsRun)
}

func TestController_Start_CancellationPersistsPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := sessionFunc(func(_ context.Context, _ agent.Request) (*agent.Response, error) {
		cancel()
		return nil, fmt.Errorf("agent invocation cancelled: %w", ctx.Err())
	})
	f := newFixture(t, session, twoStories()...)

	summary, err := f.controller.Start(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomePaused, summary.Outcome)
	assert.Equal(t, "run cancelled", summary.Message)
	// No loop record was produced, so nothing is counted.
	assert.Equal(t, 0, summary.IterationsRun)

	st, err := f.stateStore.Load()
	require.NoError(t, err)
	assert.Equal(t, state.StatusPaused, st.Status)
}

func TestController_Start_ParseErrorDegradesToNoProgress(t *testing.T) {
	session := &scriptedSession{responses: []string{
		"rambling output with no status block at all",
		respond("COMPLETE", 2, "1, 2", "true"),
	}}
	f := newFixture(t, session, twoStories()...)

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, summary.Outcome)
	assert.Contains(t, f.out.String(), "status block unparsable")

	st, err := f.stateStore.Load()
	require.NoError(t, err)
	require.Len(t, st.History, 2)
	assert.Contains(t, st.History[0].Summary, "unparsable")
}

func TestController_Start_AgentErrorDegradesToNoProgress(t *testing.T) {
	calls := 0
	session := sessionFunc(func(_ context.Context, _ agent.Request) (*agent.Response, error) {
		calls++
		if calls == 1 {
			return nil, &agent.AgentError{Reason: "connection refused"}
		}
		return &agent.Response{Text: respond("COMPLETE", 2, "1, 2", "true")}, nil
	})
	f := newFixture(t, session, twoStories()...)

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, summary.Outcome)
	assert.Contains(t, f.out.String(), "connection refused")

	st, err := f.stateStore.Load()
	require.NoError(t, err)
	assert.Contains(t, st.History[0].Summary, "agent session failed")
}

func TestController_Start_UnknownStoryIDIsWarning(t *testing.T) {
	session := &scriptedSession{responses: []string{
		respond("IN_PROGRESS", 1, "1, 99", "false"),
		respond("COMPLETE", 1, "2", "true"),
	}}
	f := newFixture(t, session, twoStories()...)

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, summary.Outcome)
	assert.Contains(t, f.out.String(), "unknown story id 99")
}

func TestController_Start_CorruptStateReinitializes(t *testing.T) {
	session := &scriptedSession{responses: []string{
		respond("COMPLETE", 2, "1, 2", "true"),
	}}
	f := newFixture(t, session, twoStories()...)
	require.NoError(t, writeFile(f.stateStore.Path(), "{corrupt"))

	summary, err := f.controller.Start(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, summary.Outcome)
	assert.Contains(t, f.out.String(), "reinitializing loop state")
}

func TestController_RequestStop(t *testing.T) {
	t.Run("records paused while backlog pending", func(t *testing.T) {
		f := newFixture(t, nil, twoStories()...)

		status, err := f.controller.RequestStop()
		require.NoError(t, err)
		assert.Equal(t, state.StatusPaused, status)

		st, err := f.stateStore.Load()
		require.NoError(t, err)
		assert.Equal(t, state.StatusPaused, st.Status)
	})

	t.Run("records completed when backlog is satisfied", func(t *testing.T) {
		f := newFixture(t, nil,
			backlog.Story{ID: 1, Title: "Done", Passes: true},
		)

		status, err := f.controller.RequestStop()
		require.NoError(t, err)
		assert.Equal(t, state.StatusCompleted, status)
	})

	t.Run("refuses while halted", func(t *testing.T) {
		f := newFixture(t, nil, twoStories()...)
		st := state.NewLoopState()
		st.Status = state.StatusHalted
		st.Counters.NoProgress = 3
		require.NoError(t, f.stateStore.Save(st))

		_, err := f.controller.RequestStop()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCircuitTripped)

		loaded, err := f.stateStore.Load()
		require.NoError(t, err)
		assert.Equal(t, state.StatusHalted, loaded.Status)
	})
}

func TestController_GetStatus(t *testing.T) {
	t.Run("reports backlog progress", func(t *testing.T) {
		f := newFixture(t, nil,
			backlog.Story{ID: 1, Title: "Done", Passes: true},
			backlog.Story{ID: 2, Title: "Pending"},
		)

		snapshot, err := f.controller.GetStatus()
		require.NoError(t, err)
		assert.Equal(t, 2, snapshot.TotalStories)
		assert.Equal(t, 1, snapshot.CompletedStories)
		require.NotNil(t, snapshot.NextStory)
		assert.Equal(t, 2, snapshot.NextStory.ID)
		assert.False(t, snapshot.EmptyBacklog)
		assert.Empty(t, snapshot.BacklogIssue)
	})

	t.Run("stays readable with a corrupt backlog", func(t *testing.T) {
		f := newFixture(t, nil, twoStories()...)
		require.NoError(t, writeFile(f.backlogStore.Path(), "{corrupt"))

		snapshot, err := f.controller.GetStatus()
		require.NoError(t, err)
		require.NotNil(t, snapshot.State)
		assert.NotEmpty(t, snapshot.BacklogIssue)
	})

	t.Run("flags an empty backlog", func(t *testing.T) {
		f := newFixture(t, nil)

		snapshot, err := f.controller.GetStatus()
		require.NoError(t, err)
		assert.True(t, snapshot.EmptyBacklog)
	})
}

func TestOutcome_IsValid(t *testing.T) {
	for _, o := range []Outcome{OutcomeCompleted, OutcomePaused, OutcomeHalted, OutcomeStopped, OutcomeEmptyBacklog} {
		assert.True(t, o.IsValid(), "outcome %q should be valid", o)
	}
	assert.False(t, Outcome("crashed").IsValid())
}

func TestCircuitTrippedError(t *testing.T) {
	err := &CircuitTrippedError{Reason: breaker.ReasonNoProgress, Description: "3 loops without progress"}
	assert.Contains(t, err.Error(), "3 loops without progress")
	assert.ErrorIs(t, err, ErrCircuitTripped)

	bare := &CircuitTrippedError{}
	assert.Contains(t, bare.Error(), "reset required")
}
