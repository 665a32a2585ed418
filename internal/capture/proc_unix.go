//go:build unix

package capture

import (
	"os/exec"
	"syscall"
)

// startGroup puts cmd in its own process group so killGroup reaches any
// children ffmpeg spawns.
func startGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
