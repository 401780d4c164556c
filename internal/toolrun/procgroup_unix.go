//go:build unix

package toolrun

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// The tool gets its own process group so cancellation can take down
// anything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// A negative pid addresses the whole group.
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
