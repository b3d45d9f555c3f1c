//go:build unix

package invoke

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcessGroup places the command in its own process group so the
// whole tree can be signalled at once.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup sends SIGKILL to every process in the command's group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	// Group signalling refused; fall back to the leader alone.
	return cmd.Process.Kill()
}

// sweepProcessGroup kills what remains of the group after the leader has
// been reaped. An empty group is left alone: its pgid is free for reuse.
func sweepProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, 0); errors.Is(err, unix.ESRCH) {
		return
	}
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
