// Package worker runs probe attempts in separate OS processes, so a check
// that hangs or crashes cannot block or corrupt the poller.
package worker

import (
	"os/exec"
	"sync"
	"time"
)

// waitDelay bounds how long Wait keeps waiting for output pipes held open
// by grandchildren after the worker itself exited.
const waitDelay = 2 * time.Second

// process is the probe.Worker handle of a started command. A single
// goroutine waits on the command; it posts the result, records the exit
// error, and closes exited.
type process struct {
	cmd    *exec.Cmd
	exited chan struct{}

	mu  sync.Mutex
	err error
}

func newProcess(cmd *exec.Cmd) *process {
	return &process{cmd: cmd, exited: make(chan struct{})}
}

// reap waits for the command. before runs first (e.g. draining the result
// pipe), post runs with the exit error before exited is closed.
func (p *process) reap(before func(), post func(waitErr error)) {
	defer close(p.exited)
	if before != nil {
		before()
	}
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	if post != nil {
		post(err)
	}
}

func (p *process) Exited() <-chan struct{} { return p.exited }

func (p *process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Kill sends SIGKILL to the worker's process group and returns once the
// worker has been reaped.
func (p *process) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	err := killGroup(p.cmd)
	if err != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.exited
	return err
}
