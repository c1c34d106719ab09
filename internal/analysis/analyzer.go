// Package analysis extracts the structured status block from free-form
// agent output. It is the only component that touches raw response text;
// everything downstream consumes the typed AnalysisResult.
package analysis

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Delimiters of the status block embedded in agent output.
const (
	BlockStart = "---RALPH_STATUS---"
	BlockEnd   = "---END_RALPH_STATUS---"
)

// AgentStatus is the agent-reported progress status.
type AgentStatus string

// Valid agent status values.
const (
	StatusInProgress AgentStatus = "IN_PROGRESS"
	StatusComplete   AgentStatus = "COMPLETE"
	StatusBlocked    AgentStatus = "BLOCKED"
)

var validAgentStatuses = map[AgentStatus]bool{
	StatusInProgress: true,
	StatusComplete:   true,
	StatusBlocked:    true,
}

// IsValid returns true if the status is a valid AgentStatus value.
func (s AgentStatus) IsValid() bool {
	return validAgentStatuses[s]
}

// TestsStatus is the agent-reported test suite status.
type TestsStatus string

// Valid tests status values.
const (
	TestsPassing TestsStatus = "PASSING"
	TestsFailing TestsStatus = "FAILING"
	TestsNotRun  TestsStatus = "NOT_RUN"
)

var validTestsStatuses = map[TestsStatus]bool{
	TestsPassing: true,
	TestsFailing: true,
	TestsNotRun:  true,
}

// IsValid returns true if the status is a valid TestsStatus value.
func (s TestsStatus) IsValid() bool {
	return validTestsStatuses[s]
}

// WorkType is the agent-reported kind of work performed in the loop.
type WorkType string

// Valid work type values.
const (
	WorkImplementation WorkType = "IMPLEMENTATION"
	WorkTesting        WorkType = "TESTING"
	WorkDocumentation  WorkType = "DOCUMENTATION"
	WorkRefactoring    WorkType = "REFACTORING"
)

var validWorkTypes = map[WorkType]bool{
	WorkImplementation: true,
	WorkTesting:        true,
	WorkDocumentation:  true,
	WorkRefactoring:    true,
}

// IsValid returns true if the work type is a valid WorkType value.
func (w WorkType) IsValid() bool {
	return validWorkTypes[w]
}

// Result is the structured signal record extracted from one agent response.
type Result struct {
	// Status is the agent-reported progress status.
	Status AgentStatus `json:"status"`

	// TasksCompletedThisLoop is the agent-reported number of tasks finished.
	TasksCompletedThisLoop int `json:"tasks_completed_this_loop"`

	// CompletedStoryIDs lists backlog story IDs the agent reports complete.
	CompletedStoryIDs []int `json:"completed_story_ids,omitempty"`

	// FilesModified is the agent-reported number of files touched.
	FilesModified int `json:"files_modified"`

	// TestsStatus is the agent-reported test suite status.
	TestsStatus TestsStatus `json:"tests_status"`

	// WorkType is the kind of work the agent reports having done.
	WorkType WorkType `json:"work_type"`

	// ExitSignal is the agent's claim that no further work remains. It is
	// corroborated against actual backlog completion, never trusted blindly.
	ExitSignal bool `json:"exit_signal"`

	// Recommendation is the agent's one-line suggestion for the next loop.
	Recommendation string `json:"recommendation,omitempty"`
}

// HasProgress reports whether the result shows any forward progress.
func (r *Result) HasProgress() bool {
	return r.TasksCompletedThisLoop > 0 || len(r.CompletedStoryIDs) > 0
}

// NoProgress returns a zero-progress result used when a response cannot be
// analyzed. Feeding it to the circuit breaker counts the iteration as
// no-progress instead of aborting the loop.
func NoProgress() *Result {
	return &Result{
		Status:      StatusInProgress,
		TestsStatus: TestsNotRun,
		WorkType:    WorkImplementation,
	}
}

// ErrParse is returned when the status block is absent or malformed.
var ErrParse = errors.New("status block unparsable")

// ParseError wraps ErrParse with details about the parse failure. It is
// non-fatal: the controller degrades the iteration to no-progress.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("status block unparsable: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// Analyze locates the delimited status block within text and parses its
// key:value lines. Prose before and after the block is ignored. If the
// agent emitted more than one block, the last one wins. Returns a
// ParseError when the block is absent, a required field is missing or
// unparsable, or an enumerated field has an unrecognized value.
func Analyze(text string) (*Result, error) {
	block, err := extractBlock(text)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	result := &Result{
		TestsStatus: TestsNotRun,
		WorkType:    WorkImplementation,
	}

	status, ok := fields["STATUS"]
	if !ok {
		return nil, &ParseError{Reason: "missing STATUS field"}
	}
	result.Status = AgentStatus(strings.ToUpper(status))
	if !result.Status.IsValid() {
		return nil, &ParseError{Reason: fmt.Sprintf("unrecognized STATUS value: %q", status)}
	}

	exitSignal, ok := fields["EXIT_SIGNAL"]
	if !ok {
		return nil, &ParseError{Reason: "missing EXIT_SIGNAL field"}
	}
	switch strings.ToLower(exitSignal) {
	case "true":
		result.ExitSignal = true
	case "false":
		result.ExitSignal = false
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("invalid EXIT_SIGNAL value: %q", exitSignal)}
	}

	if v, ok := fields["TASKS_COMPLETED_THIS_LOOP"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, &ParseError{Reason: fmt.Sprintf("invalid TASKS_COMPLETED_THIS_LOOP value: %q", v)}
		}
		result.TasksCompletedThisLoop = n
	}

	if v, ok := fields["FILES_MODIFIED"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, &ParseError{Reason: fmt.Sprintf("invalid FILES_MODIFIED value: %q", v)}
		}
		result.FilesModified = n
	}

	if v, ok := fields["COMPLETED_STORY_IDS"]; ok {
		ids, err := parseStoryIDs(v)
		if err != nil {
			return nil, &ParseError{Reason: err.Error()}
		}
		result.CompletedStoryIDs = ids
	}

	if v, ok := fields["TESTS_STATUS"]; ok {
		result.TestsStatus = TestsStatus(strings.ToUpper(v))
		if !result.TestsStatus.IsValid() {
			return nil, &ParseError{Reason: fmt.Sprintf("unrecognized TESTS_STATUS value: %q", v)}
		}
	}

	if v, ok := fields["WORK_TYPE"]; ok {
		result.WorkType = WorkType(strings.ToUpper(v))
		if !result.WorkType.IsValid() {
			return nil, &ParseError{Reason: fmt.Sprintf("unrecognized WORK_TYPE value: %q", v)}
		}
	}

	result.Recommendation = fields["RECOMMENDATION"]

	return result, nil
}

// extractBlock returns the text between the last BlockStart and the first
// BlockEnd after it.
func extractBlock(text string) (string, error) {
	start := strings.LastIndex(text, BlockStart)
	if start == -1 {
		return "", &ParseError{Reason: "no status block found"}
	}
	rest := text[start+len(BlockStart):]

	end := strings.Index(rest, BlockEnd)
	if end == -1 {
		return "", &ParseError{Reason: "status block is not terminated"}
	}

	return rest[:end], nil
}

// parseStoryIDs parses a comma-separated list of story IDs. "none" and an
// empty value both mean no completed stories.
func parseStoryIDs(value string) ([]int, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "none") {
		return nil, nil
	}

	var ids []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid COMPLETED_STORY_IDS entry: %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
