package invoke

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
)

// StderrHeuristic inspects a nonzero exit and may assign a more specific
// kind (RateLimited, ModelError). Returning ok=false keeps ProcessError.
// Implementations must be pure.
type StderrHeuristic func(exit *ExitError) (kind Kind, ok bool)

// Classifier maps raw runner and decoder failures onto the taxonomy.
// The zero value is ready to use.
type Classifier struct {
	// ExecutablePath is quoted in not-found messages.
	ExecutablePath string
	// Heuristic is consulted for nonzero exits. Nil means none.
	Heuristic StderrHeuristic
}

// Classify returns the *Error for err. It switches on the concrete failure
// type only; message text is never inspected.
func (c Classifier) Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var (
		classified *Error
		timeout    *TimeoutError
		launch     *LaunchError
		workspace  *WorkspaceError
		exit       *ExitError
		decode     *DecodeError
	)

	switch {
	case errors.As(err, &classified):
		return classified

	case errors.As(err, &timeout):
		return NewError(KindTimeout, err, "Claude CLI timeout after %dms", timeout.Timeout.Milliseconds())

	case errors.As(err, &launch):
		if errors.Is(launch.Err, exec.ErrNotFound) || errors.Is(launch.Err, fs.ErrNotExist) {
			path := c.ExecutablePath
			if path == "" {
				path = launch.Path
			}
			return NewError(KindExecutableNotFound, err, "Claude CLI not found at path: %s", path)
		}
		return NewError(KindProcessError, err, "Failed to spawn Claude CLI: %v", launch.Err)

	case errors.As(err, &workspace):
		return NewError(KindWorkspaceError, err, "Workspace unavailable: %v", workspace)

	case errors.As(err, &exit):
		if c.Heuristic != nil {
			if kind, ok := c.Heuristic(exit); ok && isKnown(kind) {
				return NewError(kind, err, "Claude CLI failed with code %d: %s", exit.Code, strings.TrimSpace(exit.Stderr))
			}
		}
		return NewError(KindProcessError, err, "Claude CLI failed with code %d: %s", exit.Code, strings.TrimSpace(exit.Stderr))

	case errors.As(err, &decode):
		return NewError(KindDecodeFailed, err, "Failed to parse Claude CLI response: %v", decode)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewError(KindCancelled, err, "Invocation cancelled: %v", err)
	}

	return NewError(KindProcessError, err, "%v", err)
}

// Classify uses the zero Classifier.
func Classify(err error) *Error {
	return Classifier{}.Classify(err)
}
