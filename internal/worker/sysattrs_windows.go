//go:build windows

package worker

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// ExtraFiles is not supported on Windows; the result travels on stdout.
func attachResultPipe(cmd *exec.Cmd, w *os.File) {
	cmd.Stdout = w
}

func openResultPipe() *os.File {
	return os.Stdout
}
