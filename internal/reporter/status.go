// Package reporter formats status snapshots and run summaries for display.
package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/l3wi/takopi-ralph/internal/loop"
)

// FormatStatus renders a composite status snapshot as text.
func FormatStatus(snapshot *loop.StatusSnapshot) string {
	var sb strings.Builder

	sb.WriteString("## Status\n\n")

	st := snapshot.State
	_, _ = fmt.Fprintf(&sb, "Loop status: %s\n", st.Status)
	_, _ = fmt.Fprintf(&sb, "Loop number: %d\n", st.LoopNumber)
	if st.StartedAt != nil {
		_, _ = fmt.Fprintf(&sb, "Started: %s\n", st.StartedAt.Format(time.RFC3339))
	}
	if st.LastError != "" {
		_, _ = fmt.Fprintf(&sb, "Last error: %s\n", st.LastError)
	}
	sb.WriteString("\n")

	sb.WriteString("### Stories\n")
	if snapshot.BacklogIssue != "" {
		_, _ = fmt.Fprintf(&sb, "Backlog: UNREADABLE (%s)\n", snapshot.BacklogIssue)
	} else if snapshot.EmptyBacklog {
		sb.WriteString("Backlog: empty (warning: nothing to do)\n")
	} else {
		_, _ = fmt.Fprintf(&sb, "Total: %d\n", snapshot.TotalStories)
		_, _ = fmt.Fprintf(&sb, "Completed: %d\n", snapshot.CompletedStories)
		if snapshot.NextStory != nil {
			_, _ = fmt.Fprintf(&sb, "Next: #%d %s\n", snapshot.NextStory.ID, snapshot.NextStory.Title)
		} else {
			sb.WriteString("Next: none\n")
		}
	}
	sb.WriteString("\n")

	sb.WriteString("### Circuit Breaker\n")
	_, _ = fmt.Fprintf(&sb, "No-progress: %d\n", st.Counters.NoProgress)
	_, _ = fmt.Fprintf(&sb, "Test-only: %d\n", st.Counters.TestOnly)
	_, _ = fmt.Fprintf(&sb, "Conflicting-done: %d\n", st.Counters.DoneSignals)

	recent := st.RecentHistory(5)
	if len(recent) > 0 {
		sb.WriteString("\n### Recent Loops\n")
		for _, record := range recent {
			_, _ = fmt.Fprintf(&sb, "Loop %d (%s): %s\n", record.LoopNumber, record.Timestamp.Format(time.RFC3339), record.Summary)
		}
	}

	return sb.String()
}

// FormatRunSummary renders a run summary as text.
func FormatRunSummary(summary *loop.RunSummary) string {
	var sb strings.Builder

	sb.WriteString("## Run Summary\n\n")
	_, _ = fmt.Fprintf(&sb, "Outcome: %s\n", summary.Outcome)
	_, _ = fmt.Fprintf(&sb, "Status: %s\n", summary.Status)
	_, _ = fmt.Fprintf(&sb, "Iterations run: %d\n", summary.IterationsRun)
	_, _ = fmt.Fprintf(&sb, "Loop number: %d\n", summary.LoopNumber)
	if summary.Message != "" {
		_, _ = fmt.Fprintf(&sb, "Message: %s\n", summary.Message)
	}
	if summary.LastRecommendation != "" {
		_, _ = fmt.Fprintf(&sb, "Recommendation: %s\n", summary.LastRecommendation)
	}
	if summary.LastError != "" {
		_, _ = fmt.Fprintf(&sb, "Last error: %s\n", summary.LastError)
	}

	return sb.String()
}
