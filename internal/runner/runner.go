// Package runner wires configuration, stores, and the agent session into a
// loop controller for one project.
package runner

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/l3wi/takopi-ralph/internal/agent"
	"github.com/l3wi/takopi-ralph/internal/backlog"
	"github.com/l3wi/takopi-ralph/internal/breaker"
	"github.com/l3wi/takopi-ralph/internal/config"
	"github.com/l3wi/takopi-ralph/internal/loop"
	"github.com/l3wi/takopi-ralph/internal/reporter"
	"github.com/l3wi/takopi-ralph/internal/state"
)

// Options configures a run.
type Options struct {
	// MaxIterations bounds this invocation (0 uses config).
	MaxIterations int
}

// NewController builds a loop controller for the project at workDir using
// the given configuration and agent session. A nil session gets the
// configured subprocess session. No directories are created here, so
// read-only callers (status) leave the project untouched.
func NewController(workDir string, cfg *config.Config, session agent.Session, out io.Writer) (*loop.Controller, error) {
	backlogStore := backlog.NewStore(filepath.Join(workDir, cfg.Backlog.Path))
	stateStore := state.NewStoreForProject(workDir)

	if session == nil {
		session = newSubprocessSession(workDir, cfg)
	}

	return loop.NewController(loop.Deps{
		Backlog: backlogStore,
		State:   stateStore,
		Session: session,
		Thresholds: &breaker.Thresholds{
			NoProgress:      cfg.Breaker.NoProgress,
			TestOnly:        cfg.Breaker.TestOnly,
			ConflictingDone: cfg.Breaker.ConflictingDone,
		},
		HistoryCap: cfg.Loop.HistoryCap,
		WorkDir:    workDir,
		Out:        out,
	}), nil
}

// newSubprocessSession builds the agent session from the configured command.
func newSubprocessSession(workDir string, cfg *config.Config) agent.Session {
	command := config.DefaultAgentCommand
	var args []string
	if len(cfg.Agent.Command) > 0 {
		command = cfg.Agent.Command[0]
		args = append(args, cfg.Agent.Command[1:]...)
	}
	args = append(args, cfg.Agent.Args...)

	session := agent.NewSubprocessSession(command, state.LogsDirPath(workDir))
	if len(args) > 0 {
		session.WithBaseArgs(args)
	}
	return session
}

// Run executes the loop for the project at workDir and writes the summary.
func Run(ctx context.Context, workDir string, cfg *config.Config, opts Options, stdout, stderr io.Writer) error {
	if err := state.EnsureTakopiDir(workDir); err != nil {
		return fmt.Errorf("failed to create .takopi directory: %w", err)
	}

	controller, err := NewController(workDir, cfg, nil, stderr)
	if err != nil {
		return err
	}

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = cfg.Loop.MaxIterations
	}

	summary, err := controller.Start(ctx, maxIterations)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprint(stdout, reporter.FormatRunSummary(summary))
	return nil
}
