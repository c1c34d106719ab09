// Package prompt builds the iteration prompt handed to the agent session.
package prompt

import (
	"fmt"
	"strings"

	"github.com/l3wi/takopi-ralph/internal/analysis"
	"github.com/l3wi/takopi-ralph/internal/backlog"
	"github.com/l3wi/takopi-ralph/internal/state"
)

// statusInstructions tells the agent how to report back. The block format is
// the contract parsed by the analysis package.
var statusInstructions = fmt.Sprintf(`## STATUS REPORTING (CRITICAL)

At the END of your response, you MUST include this status block:

%s
STATUS: IN_PROGRESS | COMPLETE | BLOCKED
TASKS_COMPLETED_THIS_LOOP: <number>
COMPLETED_STORY_IDS: <comma-separated story ids, or none>
FILES_MODIFIED: <number>
TESTS_STATUS: PASSING | FAILING | NOT_RUN
WORK_TYPE: IMPLEMENTATION | TESTING | DOCUMENTATION | REFACTORING
EXIT_SIGNAL: false | true
RECOMMENDATION: <one-line summary of what to do next>
%s

### When to set EXIT_SIGNAL: true
Set EXIT_SIGNAL to true only when ALL of these hold:
1. Every story in the backlog is complete
2. All tests are passing (or no tests exist)
3. No errors in the last execution
4. You have nothing meaningful left to implement

### What NOT to do:
- Do NOT continue with busy work when EXIT_SIGNAL should be true
- Do NOT run tests repeatedly without implementing new features
- Do NOT refactor code that is already working fine
- Do NOT add features not in the specifications`, analysis.BlockStart, analysis.BlockEnd)

// Context contains everything needed to build one iteration prompt.
type Context struct {
	// Backlog is the current backlog.
	Backlog *backlog.Backlog

	// Story is the next pending story, nil when every story passes.
	Story *backlog.Story

	// LoopNumber is the number of the loop about to run.
	LoopNumber int

	// StateSummary describes the current loop state (counters, recent
	// history) for the agent's context.
	StateSummary string
}

// Builder assembles prompts for agent invocations. Each prompt carries the
// full project context because every invocation starts a fresh session: the
// backlog and loop history are the source of truth, not agent memory.
type Builder struct{}

// NewBuilder creates a prompt builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build assembles the iteration prompt from the given context.
func (b *Builder) Build(ctx Context) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Loop #%d\n\n", ctx.LoopNumber)

	if ctx.Backlog != nil {
		sb.WriteString("## Project Context\n")
		fmt.Fprintf(&sb, "Project: %s\n", ctx.Backlog.ProjectName)
		if ctx.Backlog.Description != "" {
			fmt.Fprintf(&sb, "Description: %s\n", ctx.Backlog.Description)
		}
		fmt.Fprintf(&sb, "Progress: %s\n\n", ctx.Backlog.ProgressSummary())
	}

	if ctx.Story != nil {
		sb.WriteString("## Current Story\n")
		fmt.Fprintf(&sb, "Story #%d: %s\n", ctx.Story.ID, ctx.Story.Title)
		if ctx.Story.Description != "" {
			fmt.Fprintf(&sb, "Description: %s\n", ctx.Story.Description)
		}
		if len(ctx.Story.AcceptanceCriteria) > 0 {
			sb.WriteString("Acceptance Criteria:\n")
			for _, criterion := range ctx.Story.AcceptanceCriteria {
				fmt.Fprintf(&sb, "  - %s\n", criterion)
			}
		}
		sb.WriteString("\nFocus on ONE story at a time. Implement it fully, including tests.\n\n")
	} else {
		sb.WriteString("All stories appear complete. Verify everything works and set EXIT_SIGNAL: true if done.\n\n")
	}

	if ctx.StateSummary != "" {
		sb.WriteString("## Loop State\n")
		sb.WriteString(ctx.StateSummary)
		sb.WriteString("\n\n")
	}

	sb.WriteString(statusInstructions)

	return sb.String()
}

// StateSummary formats the loop state into the short summary embedded in
// the prompt.
func StateSummary(st *state.LoopState) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Loops completed: %d\n", st.LoopNumber)
	fmt.Fprintf(&sb, "Consecutive no-progress loops: %d\n", st.Counters.NoProgress)

	recent := st.RecentHistory(3)
	if len(recent) > 0 {
		sb.WriteString("Recent loops:\n")
		for _, record := range recent {
			fmt.Fprintf(&sb, "  Loop %d: %s\n", record.LoopNumber, record.Summary)
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}
