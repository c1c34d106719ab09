// Package breaker implements the circuit breaker that halts iteration on
// sustained lack of progress. It is a pure function over counters: no side
// effects, no storage.
package breaker

import (
	"fmt"

	"github.com/l3wi/takopi-ralph/internal/analysis"
	"github.com/l3wi/takopi-ralph/internal/state"
)

// TripReason identifies why the breaker tripped.
type TripReason string

const (
	// ReasonNone indicates no trip condition.
	ReasonNone TripReason = "none"
	// ReasonNoProgress indicates too many consecutive no-progress loops.
	ReasonNoProgress TripReason = "no_progress"
	// ReasonTestOnly indicates too many consecutive test-only loops.
	ReasonTestOnly TripReason = "test_only"
	// ReasonConflictingDone indicates repeated exit signals while the
	// backlog was still incomplete.
	ReasonConflictingDone TripReason = "conflicting_done"
)

// validTripReasons is the set of valid trip reasons.
var validTripReasons = map[TripReason]bool{
	ReasonNone:            true,
	ReasonNoProgress:      true,
	ReasonTestOnly:        true,
	ReasonConflictingDone: true,
}

// IsValid returns true if the reason is a valid value.
func (r TripReason) IsValid() bool {
	return validTripReasons[r]
}

// Thresholds holds the counter thresholds that trip the breaker.
// A threshold of zero or less disables that check.
type Thresholds struct {
	// NoProgress is the max consecutive loops with zero completions.
	NoProgress int `json:"no_progress"`

	// TestOnly is the max consecutive test-only loops without
	// implementation progress.
	TestOnly int `json:"test_only"`

	// ConflictingDone is the max consecutive premature exit signals.
	ConflictingDone int `json:"conflicting_done"`
}

// DefaultThresholds returns the default breaker thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NoProgress:      3,
		TestOnly:        3,
		ConflictingDone: 2,
	}
}

// Decision is the result of evaluating one iteration against the breaker.
type Decision struct {
	// Tripped is true if a trip condition was reached.
	Tripped bool

	// Reason identifies the specific trip condition.
	Reason TripReason

	// Description is a human-readable explanation of the trip.
	Description string
}

// Evaluate computes the updated counters from the prior counters and one
// iteration's analysis result, and decides whether the breaker trips.
// backlogComplete is whether every backlog story passes after applying the
// result.
//
// Counter semantics:
//   - NoProgress increments when the result shows zero completions,
//     resets otherwise.
//   - TestOnly increments when the work type is TESTING and no
//     implementation progress occurred, resets otherwise.
//   - DoneSignals increments when the agent signalled exit while the
//     backlog was still incomplete, resets when the signal is absent or
//     the backlog is actually complete.
func Evaluate(result *analysis.Result, prior state.Counters, backlogComplete bool, thresholds Thresholds) (state.Counters, Decision) {
	next := prior

	if result.HasProgress() {
		next.NoProgress = 0
	} else {
		next.NoProgress++
	}

	if result.WorkType == analysis.WorkTesting && !result.HasProgress() {
		next.TestOnly++
	} else {
		next.TestOnly = 0
	}

	if result.ExitSignal && !backlogComplete {
		next.DoneSignals++
	} else {
		next.DoneSignals = 0
	}

	return next, check(next, thresholds)
}

// check tests the counters against the thresholds.
func check(counters state.Counters, thresholds Thresholds) Decision {
	if thresholds.NoProgress > 0 && counters.NoProgress >= thresholds.NoProgress {
		return Decision{
			Tripped:     true,
			Reason:      ReasonNoProgress,
			Description: fmt.Sprintf("%d consecutive loops without progress (threshold: %d)", counters.NoProgress, thresholds.NoProgress),
		}
	}

	if thresholds.TestOnly > 0 && counters.TestOnly >= thresholds.TestOnly {
		return Decision{
			Tripped:     true,
			Reason:      ReasonTestOnly,
			Description: fmt.Sprintf("%d consecutive test-only loops (threshold: %d)", counters.TestOnly, thresholds.TestOnly),
		}
	}

	if thresholds.ConflictingDone > 0 && counters.DoneSignals >= thresholds.ConflictingDone {
		return Decision{
			Tripped:     true,
			Reason:      ReasonConflictingDone,
			Description: fmt.Sprintf("%d consecutive exit signals with incomplete backlog (threshold: %d)", counters.DoneSignals, thresholds.ConflictingDone),
		}
	}

	return Decision{
		Tripped: false,
		Reason:  ReasonNone,
	}
}
