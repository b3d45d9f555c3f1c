package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait keeps reading pipes after the attempt has
// been killed, in case a grandchild outside the process group holds them.
const waitDelay = 2 * time.Second

// Command describes one subprocess attempt.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration // Hard wall-clock limit; zero means none
}

// Attempt is the captured result of a process that exited with code 0.
type Attempt struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner launches exactly one subprocess per call.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Attempt, error)
}

// LaunchError reports that the process could not be started.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExitError reports a process that exited with a nonzero code.
type ExitError struct {
	Code   int
	Stderr string
	Stdout []byte
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with code %d: %s", e.Code, e.Stderr)
}

// TimeoutError reports a process killed for exceeding its attempt timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process timeout after %dms", e.Timeout.Milliseconds())
}

// WorkspaceError reports an unusable working directory.
type WorkspaceError struct {
	Dir string
	Err error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("workspace %s: %v", e.Dir, e.Err)
}

func (e *WorkspaceError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec. Each attempt gets its own process
// group, which is killed on timeout or cancellation and swept after exit.
type ExecRunner struct{}

// Run starts cmd and waits for it to exit or time out. Cancelling ctx kills
// the process group and returns an error wrapping ctx.Err().
func (ExecRunner) Run(ctx context.Context, c Command) (*Attempt, error) {
	if c.Dir != "" {
		info, err := os.Stat(c.Dir)
		if err != nil {
			return nil, &WorkspaceError{Dir: c.Dir, Err: err}
		}
		if !info.IsDir() {
			return nil, &WorkspaceError{Dir: c.Dir, Err: errors.New("not a directory")}
		}
	}

	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if c.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = os.Environ()
	cmd.Stdin = nil // Read from os.DevNull

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("attempt cancelled before start: %w", ctx.Err())
		}
		return nil, &LaunchError{Path: c.Path, Err: err}
	}

	err := cmd.Wait()
	// Sweep anything the process left behind in its group.
	sweepProcessGroup(cmd)

	// A leftover child holding the pipes makes Wait report ErrWaitDelay even
	// though the CLI itself exited 0 and its output was read.
	if err == nil || (errors.Is(err, exec.ErrWaitDelay) && exitedCleanly(cmd)) {
		return &Attempt{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("attempt cancelled: %w", ctx.Err())
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Timeout: c.Timeout}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &ExitError{
			Code:   exitErr.ExitCode(),
			Stderr: stderr.String(),
			Stdout: stdout.Bytes(),
		}
	}
	return nil, fmt.Errorf("waiting for %s: %w", c.Path, err)
}

func exitedCleanly(cmd *exec.Cmd) bool {
	return cmd.ProcessState != nil && cmd.ProcessState.Success()
}
