//go:build !windows

package worker

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the worker in its own process group so a kill
// also reaches anything it spawned.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the worker's process group.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// attachResultPipe hands w to the child as fd 3.
func attachResultPipe(cmd *exec.Cmd, w *os.File) {
	cmd.ExtraFiles = []*os.File{w}
}

// openResultPipe is the child side of attachResultPipe.
func openResultPipe() *os.File {
	return os.NewFile(3, "waitprobe-result")
}
