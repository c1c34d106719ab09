package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// SubprocessSession invokes the agent CLI as a subprocess and collects its
// stdout as response fragments.
type SubprocessSession struct {
	// command is the path to the agent binary (e.g., "claude").
	command string
	// baseArgs are arguments prepended to every invocation.
	baseArgs []string
	// logsDir is the directory where raw output logs are saved.
	// Logging is skipped when empty.
	logsDir string
}

// NewSubprocessSession creates a SubprocessSession for the given command.
func NewSubprocessSession(command, logsDir string) *SubprocessSession {
	return &SubprocessSession{
		command: command,
		logsDir: logsDir,
	}
}

// WithBaseArgs sets arguments prepended to every invocation.
func (s *SubprocessSession) WithBaseArgs(args []string) *SubprocessSession {
	s.baseArgs = args
	return s
}

// Run executes the agent subprocess with the request prompt. Stdout is read
// line by line as response fragments and teed to a raw log file. The
// subprocess is always started without any continuation flag, so every
// invocation begins a fresh session.
func (s *SubprocessSession) Run(ctx context.Context, req Request) (*Response, error) {
	args := append([]string(nil), s.baseArgs...)
	args = append(args, "-p", req.Prompt)

	cmd := exec.CommandContext(ctx, s.command, args...)
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &AgentError{Reason: fmt.Sprintf("failed to create stdout pipe: %v", err)}
	}

	var logFile *os.File
	var logPath string
	if s.logsDir != "" {
		logPath = filepath.Join(s.logsDir, generateLogFilename())
		logFile, err = os.Create(logPath)
		if err != nil {
			return nil, &AgentError{Reason: fmt.Sprintf("failed to create log file %s: %v", logPath, err)}
		}
		defer func() { _ = logFile.Close() }()
	}

	if err := cmd.Start(); err != nil {
		return nil, &AgentError{Reason: fmt.Sprintf("failed to start command %s: %v", s.command, err)}
	}

	response := &Response{RawLogPath: logPath}
	var textBuilder strings.Builder

	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, bufferSize), maxFragmentSize)
	for scanner.Scan() {
		fragment := scanner.Text()
		response.Fragments = append(response.Fragments, fragment)
		textBuilder.WriteString(fragment)
		textBuilder.WriteString("\n")
		if logFile != nil {
			_, _ = logFile.WriteString(fragment + "\n")
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("agent invocation cancelled: %w", ctx.Err())
	}

	if scanErr != nil {
		return nil, &AgentError{Reason: fmt.Sprintf("error reading stdout: %v", scanErr)}
	}

	if waitErr != nil {
		stderr := strings.TrimSpace(stderrBuf.String())
		if stderr != "" {
			return nil, &AgentError{Reason: fmt.Sprintf("command failed: %v, stderr: %s", waitErr, stderr)}
		}
		return nil, &AgentError{Reason: fmt.Sprintf("command failed: %v", waitErr)}
	}

	response.Text = textBuilder.String()
	return response, nil
}

// bufferSize is the initial scanner buffer size (64KB).
const bufferSize = 64 * 1024

// maxFragmentSize is the maximum size of a single output line (10MB).
const maxFragmentSize = 10 * 1024 * 1024

// generateLogFilename creates a unique log filename with a timestamp.
func generateLogFilename() string {
	return fmt.Sprintf("%s-agent.log", time.Now().Format("20060102-150405"))
}
