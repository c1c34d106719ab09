// Package loop provides the iteration state machine driving the harness.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/l3wi/takopi-ralph/internal/agent"
	"github.com/l3wi/takopi-ralph/internal/analysis"
	"github.com/l3wi/takopi-ralph/internal/backlog"
	"github.com/l3wi/takopi-ralph/internal/breaker"
	"github.com/l3wi/takopi-ralph/internal/prompt"
	"github.com/l3wi/takopi-ralph/internal/state"
)

// DefaultMaxIterations is the hard safety cap on iterations per Start call.
// Caller-supplied values are clamped to it.
const DefaultMaxIterations = 50

// Outcome represents the final outcome of a Start call.
type Outcome string

const (
	// OutcomeCompleted indicates the backlog was fully satisfied.
	OutcomeCompleted Outcome = "completed"
	// OutcomePaused indicates the iteration budget ran out or the run was
	// cancelled; the loop is resumable.
	OutcomePaused Outcome = "paused"
	// OutcomeHalted indicates the circuit breaker tripped during the run.
	OutcomeHalted Outcome = "halted"
	// OutcomeStopped indicates an externally issued status change was
	// honored at an iteration boundary.
	OutcomeStopped Outcome = "stopped"
	// OutcomeEmptyBacklog indicates the backlog has no stories; this is a
	// warning condition, not completion.
	OutcomeEmptyBacklog Outcome = "empty_backlog"
)

// validOutcomes is the set of valid outcomes.
var validOutcomes = map[Outcome]bool{
	OutcomeCompleted:    true,
	OutcomePaused:       true,
	OutcomeHalted:       true,
	OutcomeStopped:      true,
	OutcomeEmptyBacklog: true,
}

// IsValid returns true if the outcome is a valid value.
func (o Outcome) IsValid() bool {
	return validOutcomes[o]
}

// RunSummary contains the results from a Start call.
type RunSummary struct {
	// Outcome is the final outcome of the run.
	Outcome Outcome

	// Status is the persisted controller status after the run.
	Status state.Status

	// Message is a human-readable description of the outcome.
	Message string

	// IterationsRun is the number of iterations executed in this call.
	IterationsRun int

	// LoopNumber is the project-lifetime loop number after the run.
	LoopNumber int

	// LastRecommendation is the agent's most recent next-step suggestion.
	LastRecommendation string

	// LastError is the most recent error class, empty when clean.
	LastError string
}

// StatusSnapshot is the composite read-only view returned by GetStatus.
type StatusSnapshot struct {
	// State is the current loop state.
	State *state.LoopState

	// TotalStories is the number of stories in the backlog.
	TotalStories int

	// CompletedStories is the number of stories with Passes true.
	CompletedStories int

	// NextStory is the next pending story, nil when none remain.
	NextStory *backlog.Story

	// EmptyBacklog is true when the backlog has no stories.
	EmptyBacklog bool

	// BacklogIssue describes a missing or corrupt backlog, empty when the
	// backlog loaded cleanly.
	BacklogIssue string
}

// Deps contains the dependencies for the Controller.
type Deps struct {
	Backlog *backlog.Store
	State   *state.Store
	Session agent.Session
	Prompts *prompt.Builder
	// Thresholds configures the circuit breaker; nil uses
	// breaker.DefaultThresholds(). An explicit zero field disables that
	// check, per the breaker's contract.
	Thresholds *breaker.Thresholds
	HistoryCap int
	// WorkDir is the working directory passed to the agent session.
	WorkDir string
	// Out receives progress lines; defaults to io.Discard.
	Out io.Writer
}

// Controller drives the loop state machine for one project. It holds its
// own store references; there is no process-wide registry. At most one
// active controller per project is assumed (operator-enforced, not locked).
type Controller struct {
	backlogStore *backlog.Store
	stateStore   *state.Store
	session      agent.Session
	prompts      *prompt.Builder
	thresholds   breaker.Thresholds
	historyCap   int
	workDir      string
	out          io.Writer
}

// NewController creates a controller with the given dependencies.
func NewController(deps Deps) *Controller {
	out := deps.Out
	if out == nil {
		out = io.Discard
	}
	prompts := deps.Prompts
	if prompts == nil {
		prompts = prompt.NewBuilder()
	}
	thresholds := breaker.DefaultThresholds()
	if deps.Thresholds != nil {
		thresholds = *deps.Thresholds
	}
	return &Controller{
		backlogStore: deps.Backlog,
		stateStore:   deps.State,
		session:      deps.Session,
		prompts:      prompts,
		thresholds:   thresholds,
		historyCap:   deps.HistoryCap,
		workDir:      deps.WorkDir,
		out:          out,
	}
}

// loadState loads the loop state, reinitializing to IDLE with a surfaced
// warning when the state file is corrupt. Corruption is never masked
// silently; the warning is written to the progress writer and recorded in
// LastError.
func (c *Controller) loadState() (*state.LoopState, error) {
	st, err := c.stateStore.Load()
	if err != nil {
		if errors.Is(err, state.ErrState) {
			_, _ = fmt.Fprintf(c.out, "warning: %v; reinitializing loop state\n", err)
			st = state.NewLoopState()
			st.LastError = ErrorClassState
			return st, nil
		}
		return nil, err
	}
	return st, nil
}

// Start runs the loop for up to maxIterations iterations. Values outside
// (0, DefaultMaxIterations] are clamped to DefaultMaxIterations.
//
// Fails immediately with a BacklogError when the backlog is missing or
// corrupt, and with a CircuitTrippedError when the loop is HALTED.
func (c *Controller) Start(ctx context.Context, maxIterations int) (*RunSummary, error) {
	if maxIterations <= 0 || maxIterations > DefaultMaxIterations {
		maxIterations = DefaultMaxIterations
	}

	st, err := c.loadState()
	if err != nil {
		return nil, err
	}
	if st.Status == state.StatusHalted {
		return nil, &CircuitTrippedError{}
	}

	// The backlog is ground truth: failing to load it is fatal to the run.
	if _, err := c.backlogStore.Load(); err != nil {
		return nil, err
	}

	if st.Status != state.StatusRunning {
		st.Status = state.StatusRunning
	}
	if st.StartedAt == nil {
		now := time.Now().Truncate(time.Second)
		st.StartedAt = &now
	}
	if err := c.stateStore.Save(st); err != nil {
		return nil, err
	}

	summary := &RunSummary{Outcome: OutcomePaused, Status: state.StatusRunning}

	for i := 0; i < maxIterations; i++ {
		// Reload at the top of every iteration so externally issued
		// stop/reset requests take effect at the boundary.
		st, err = c.loadState()
		if err != nil {
			return summary, err
		}

		if st.Status != state.StatusRunning {
			summary.Outcome = OutcomeStopped
			summary.Status = st.Status
			summary.Message = fmt.Sprintf("loop stopped externally (status: %s)", st.Status)
			c.finish(summary, st)
			return summary, nil
		}

		b, err := c.backlogStore.Load()
		if err != nil {
			return summary, err
		}

		if b.IsEmpty() {
			// Zero stories is a warning, never silent completion.
			st.Status = state.StatusIdle
			summary.Outcome = OutcomeEmptyBacklog
			summary.Message = "backlog has no stories; nothing to do"
			if err := c.stateStore.Save(st); err != nil {
				return summary, err
			}
			c.finish(summary, st)
			return summary, nil
		}

		// Checked before invoking the agent: a satisfied backlog never
		// spends an iteration.
		if b.AllComplete() {
			st.Status = state.StatusCompleted
			summary.Outcome = OutcomeCompleted
			summary.Message = "all stories complete"
			if err := c.stateStore.Save(st); err != nil {
				return summary, err
			}
			c.finish(summary, st)
			return summary, nil
		}

		story := b.NextPending()
		done, err := c.runIteration(ctx, st, b, story, summary)
		if err != nil {
			return summary, err
		}
		if done {
			c.finish(summary, st)
			return summary, nil
		}
	}

	// Budget exhausted without a terminal state: pause, not a failure.
	st, err = c.loadState()
	if err != nil {
		return summary, err
	}
	if st.Status == state.StatusRunning {
		st.Status = state.StatusPaused
		if err := c.stateStore.Save(st); err != nil {
			return summary, err
		}
	}
	summary.Outcome = OutcomePaused
	summary.Message = fmt.Sprintf("iteration budget exhausted after %d iterations", summary.IterationsRun)
	c.finish(summary, st)
	return summary, nil
}

// runIteration executes one iteration against the given pending story.
// Returns done=true when the loop reached a terminal state.
func (c *Controller) runIteration(ctx context.Context, st *state.LoopState, b *backlog.Backlog, story *backlog.Story, summary *RunSummary) (bool, error) {
	loopNumber := st.LoopNumber + 1
	_, _ = fmt.Fprintf(c.out, "loop %d: story #%d %q\n", loopNumber, story.ID, story.Title)

	promptText := c.prompts.Build(prompt.Context{
		Backlog:      b,
		Story:        story,
		LoopNumber:   loopNumber,
		StateSummary: prompt.StateSummary(st),
	})

	result, errClass := c.invokeAndAnalyze(ctx, promptText)
	if ctx.Err() != nil {
		// Cancellation is cooperative: persist a resumable pause.
		st.Status = state.StatusPaused
		summary.Outcome = OutcomePaused
		summary.Status = st.Status
		summary.Message = "run cancelled"
		if err := c.stateStore.Save(st); err != nil {
			return true, err
		}
		return true, nil
	}

	// A cancelled invocation produced no loop record; only count from here.
	summary.IterationsRun++

	// Apply reported completions. Unknown story IDs are the agent's
	// confusion, not a reason to abort the loop.
	for _, id := range result.CompletedStoryIDs {
		if err := c.backlogStore.MarkComplete(id); err != nil {
			if errors.Is(err, backlog.ErrNotFound) {
				_, _ = fmt.Fprintf(c.out, "warning: agent reported unknown story id %d\n", id)
				continue
			}
			return true, err
		}
	}

	allComplete, err := c.backlogStore.AllComplete()
	if err != nil {
		return true, err
	}

	st.LoopNumber = loopNumber
	st.LastError = errClass
	st.AppendHistory(state.LoopRecord{
		RecordID:       uuid.NewString(),
		LoopNumber:     loopNumber,
		StatusSnapshot: st.Status,
		Timestamp:      time.Now().Truncate(time.Second),
		Summary:        iterationSummary(result, errClass),
	}, c.historyCap)

	counters, decision := breaker.Evaluate(result, st.Counters, allComplete, c.thresholds)
	st.Counters = counters

	summary.LoopNumber = st.LoopNumber
	summary.LastError = errClass
	if result.Recommendation != "" {
		summary.LastRecommendation = result.Recommendation
	}

	if decision.Tripped {
		st.Status = state.StatusHalted
		summary.Outcome = OutcomeHalted
		summary.Message = decision.Description
		if err := c.stateStore.Save(st); err != nil {
			return true, err
		}
		_, _ = fmt.Fprintf(c.out, "circuit breaker tripped: %s\n", decision.Description)
		return true, nil
	}

	if result.ExitSignal && allComplete {
		st.Status = state.StatusCompleted
		summary.Outcome = OutcomeCompleted
		summary.Message = "agent exit signal corroborated by complete backlog"
		if err := c.stateStore.Save(st); err != nil {
			return true, err
		}
		return true, nil
	}

	// A stop recorded externally while the agent ran must not be clobbered
	// by this save; adopt it so the next boundary check honors it.
	if cur, err := c.stateStore.Load(); err == nil && cur.Status != state.StatusRunning {
		st.Status = cur.Status
	}

	// Durability point: state persisted before the next agent call.
	if err := c.stateStore.Save(st); err != nil {
		return true, err
	}
	return false, nil
}

// invokeAndAnalyze runs the agent session and analyzes its response.
// Session failures and unparsable responses degrade to a zero-progress
// result with the corresponding error class.
func (c *Controller) invokeAndAnalyze(ctx context.Context, promptText string) (*analysis.Result, string) {
	resp, err := c.session.Run(ctx, agent.Request{Prompt: promptText, Cwd: c.workDir})
	if err != nil {
		if ctx.Err() != nil {
			return analysis.NoProgress(), ErrorClassAgent
		}
		_, _ = fmt.Fprintf(c.out, "warning: %v\n", err)
		return analysis.NoProgress(), ErrorClassAgent
	}

	result, err := analysis.Analyze(resp.Text)
	if err != nil {
		_, _ = fmt.Fprintf(c.out, "warning: %v\n", err)
		return analysis.NoProgress(), ErrorClassParse
	}
	return result, ErrorClassNone
}

// finish fills the summary from the final persisted state.
func (c *Controller) finish(summary *RunSummary, st *state.LoopState) {
	summary.Status = st.Status
	summary.LoopNumber = st.LoopNumber
	if summary.LastError == "" {
		summary.LastError = st.LastError
	}
}

// iterationSummary builds the one-line history summary for a loop.
func iterationSummary(result *analysis.Result, errClass string) string {
	switch errClass {
	case ErrorClassAgent:
		return "agent session failed; counted as no progress"
	case ErrorClassParse:
		return "status block unparsable; counted as no progress"
	}
	if result.Recommendation != "" {
		return result.Recommendation
	}
	return fmt.Sprintf("%s, %d tasks completed (%s)", result.Status, result.TasksCompletedThisLoop, result.WorkType)
}

// RequestStop records a stop request in the durable store. It does not need
// the loop to be executing in this process: the request is honored at the
// next iteration boundary. When the backlog is already fully satisfied the
// recorded status is COMPLETED, otherwise PAUSED.
func (c *Controller) RequestStop() (state.Status, error) {
	st, err := c.loadState()
	if err != nil {
		return "", err
	}

	// HALTED only clears through an explicit Reset; a stop request must not
	// smuggle the loop back into a startable state.
	if st.Status == state.StatusHalted {
		return "", &CircuitTrippedError{}
	}

	target := state.StatusPaused
	if complete, err := c.backlogStore.AllComplete(); err == nil && complete {
		target = state.StatusCompleted
	}

	st.Status = target
	if err := c.stateStore.Save(st); err != nil {
		return "", err
	}
	return target, nil
}

// GetStatus returns a composite read-only snapshot of the loop state and
// backlog. It never triggers an iteration.
func (c *Controller) GetStatus() (*StatusSnapshot, error) {
	st, err := c.loadState()
	if err != nil {
		return nil, err
	}

	snapshot := &StatusSnapshot{State: st}

	b, err := c.backlogStore.Load()
	if err != nil {
		if errors.Is(err, backlog.ErrBacklog) {
			// Status must stay readable even with a broken backlog.
			snapshot.BacklogIssue = err.Error()
			return snapshot, nil
		}
		return nil, err
	}

	snapshot.TotalStories = len(b.Stories)
	snapshot.CompletedStories = b.CompletedCount()
	snapshot.NextStory = b.NextPending()
	snapshot.EmptyBacklog = b.IsEmpty()
	return snapshot, nil
}

// Reset clears a HALTED loop back to IDLE with zeroed counters. The loop
// number is preserved so numbering stays monotonic for the project.
func (c *Controller) Reset() error {
	return c.stateStore.Reset()
}
