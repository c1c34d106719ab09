package state

import (
	"time"
)

// Status represents the current state of the loop controller.
type Status string

// Valid loop status values.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusHalted    Status = "halted"
)

// validStatuses contains all valid status values for quick lookup.
var validStatuses = map[Status]bool{
	StatusIdle:      true,
	StatusRunning:   true,
	StatusPaused:    true,
	StatusCompleted: true,
	StatusHalted:    true,
}

// IsValid returns true if the status is a valid Status value.
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// Terminal returns true for statuses that end the current invocation.
// HALTED additionally requires an explicit reset before a new start.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusHalted
}

// Counters holds the consecutive-signal counters fed to the circuit breaker.
type Counters struct {
	// NoProgress counts consecutive iterations with zero completions.
	NoProgress int `json:"consecutive_no_progress"`

	// TestOnly counts consecutive test-only iterations without
	// implementation progress.
	TestOnly int `json:"consecutive_test_only"`

	// DoneSignals counts consecutive premature exit signals, i.e. the agent
	// claimed completion while the backlog still has pending stories.
	DoneSignals int `json:"consecutive_done_signals"`
}

// LoopRecord is one entry in the bounded loop history.
type LoopRecord struct {
	// RecordID is the unique identifier for this record.
	RecordID string `json:"record_id"`

	// LoopNumber is the loop this record describes.
	LoopNumber int `json:"loop_number"`

	// StatusSnapshot is the controller status after the loop.
	StatusSnapshot Status `json:"status_snapshot"`

	// Timestamp is when the record was appended.
	Timestamp time.Time `json:"timestamp"`

	// Summary is a one-line description of what the loop did.
	Summary string `json:"summary"`
}

// DefaultHistoryCap is the default bound on the loop history length.
const DefaultHistoryCap = 10

// LoopState is the durable state of the loop controller for a project.
type LoopState struct {
	// Status is the current controller status.
	Status Status `json:"status"`

	// LoopNumber increases by one per completed iteration and is never
	// reset within a project's lifetime, including across pause/resume.
	LoopNumber int `json:"loop_number"`

	// StartedAt is when the loop first entered RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// UpdatedAt is when the state was last persisted.
	UpdatedAt time.Time `json:"updated_at"`

	// Counters are the circuit breaker inputs.
	Counters Counters `json:"counters"`

	// LastError describes the most recent error class observed by the
	// controller (e.g. "parse_error", "agent_error"), empty when the last
	// iteration was clean.
	LastError string `json:"last_error,omitempty"`

	// History is the bounded, most-recent-last iteration history.
	History []LoopRecord `json:"history,omitempty"`
}

// NewLoopState returns a default IDLE state with zeroed counters.
func NewLoopState() *LoopState {
	return &LoopState{
		Status:    StatusIdle,
		UpdatedAt: time.Now().Truncate(time.Second),
	}
}

// AppendHistory appends a record and truncates the history to cap entries,
// dropping the oldest first. A cap of zero or less uses DefaultHistoryCap.
func (s *LoopState) AppendHistory(record LoopRecord, cap int) {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	s.History = append(s.History, record)
	if len(s.History) > cap {
		s.History = s.History[len(s.History)-cap:]
	}
}

// RecentHistory returns up to n of the most recent records, oldest first.
func (s *LoopState) RecentHistory(n int) []LoopRecord {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if n > len(s.History) {
		n = len(s.History)
	}
	return s.History[len(s.History)-n:]
}
