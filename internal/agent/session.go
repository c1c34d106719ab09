// Package agent provides the external agent session collaborator: an
// opaque text-in/text-out invocation of an autonomous coding agent.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// Request contains the parameters for one agent invocation.
//
// There is deliberately no session or continuation token here: every
// invocation starts with a fresh context. The backlog and loop history are
// the durable source of truth, not agent memory.
type Request struct {
	// Prompt is the full prompt text for the invocation.
	Prompt string `json:"prompt"`

	// Cwd is the working directory for the agent (typically project root).
	Cwd string `json:"cwd,omitempty"`
}

// Response contains the results of one agent invocation.
type Response struct {
	// Fragments are the response fragments in arrival order.
	Fragments []string `json:"fragments,omitempty"`

	// Text is the full response text, the concatenation of Fragments.
	Text string `json:"text"`

	// RawLogPath is the path to the saved raw output log, if any.
	RawLogPath string `json:"raw_log_path,omitempty"`
}

// Session is the interface for invoking the agent. Implementations must not
// carry conversational state between calls.
type Session interface {
	// Run invokes the agent with the given request and blocks until the
	// response is complete. The call may block for an externally-determined
	// duration; cancellation is via ctx.
	Run(ctx context.Context, req Request) (*Response, error)
}

// ErrAgent is returned when the agent session fails or reports an error.
var ErrAgent = errors.New("agent session failed")

// AgentError wraps ErrAgent with details about the session failure. The
// controller counts the iteration as no-progress rather than aborting.
type AgentError struct {
	Reason string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent session failed: %s", e.Reason)
}

func (e *AgentError) Unwrap() error {
	return ErrAgent
}
