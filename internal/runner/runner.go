package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Result captures one command execution.
type Result struct {
	Command    string        `json:"command"`
	ExitCode   int           `json:"exit_code"`
	Output     string        `json:"output"`
	Duration   time.Duration `json:"duration"`
	TimedOut   bool          `json:"timed_out"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Passed reports whether the command exited cleanly.
func (r Result) Passed() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Runner executes configured verification commands (test suite, coverage)
// in the repository working directory.
type Runner struct {
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a runner rooted at dir. A zero timeout means no limit beyond
// the caller's context.
func New(dir string, timeout time.Duration) *Runner {
	return &Runner{
		dir:     dir,
		timeout: timeout,
		logger:  slog.Default().With("component", "runner"),
	}
}

// Run executes a shell command and captures combined output. A non-zero exit
// is reported in the result, not as an error; only failures to start the
// process return an error.
func (r *Runner) Run(ctx context.Context, command string) (Result, error) {
	if command == "" {
		return Result{}, fmt.Errorf("empty command")
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	finished := time.Now()

	result := Result{
		Command:    command,
		Output:     buf.String(),
		Duration:   finished.Sub(start),
		StartedAt:  start,
		FinishedAt: finished,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run %q: %w", command, err)
	}

	r.logger.Debug("command finished", "command", command, "duration", result.Duration)
	return result, nil
}
