package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/hamed0406/waitprobe/internal/probe"
)

// EnvAttempt is set in every worker's environment to the attempt ID.
const EnvAttempt = "WAITPROBE_ATTEMPT"

// Exit codes with a meaning for command checks, following sysexits.h.
const (
	ExitReady       = 0
	ExitNotReady    = 1
	ExitUsage       = 64
	ExitDataErr     = 65
	ExitUnavailable = 69
	ExitTempFail    = 75
	ExitNoPerm      = 77
)

// CommandInvoker runs an external command per attempt, in its own process
// group. The exit status is the result: 0 is true, 1 is false, sysexits
// codes become tagged errors and death by signal is TagCrashed.
type CommandInvoker struct {
	Path string
	Args []string
	// Env is added to the current environment.
	Env []string
	Dir string
	// Stdout and Stderr receive the command's output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Command returns an invoker for name and args, resolved through PATH.
func Command(name string, args ...string) *CommandInvoker {
	return &CommandInvoker{Path: name, Args: args}
}

func (c *CommandInvoker) Start(_ context.Context, id probe.AttemptID, out *probe.Channel) (probe.Worker, error) {
	if c.Path == "" {
		return nil, errors.New("command invoker has no command")
	}
	// The poller owns cancellation and kills the whole group; the context
	// is deliberately not bound to the command.
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(append(os.Environ(), c.Env...), EnvAttempt+"="+id.String())
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.WaitDelay = waitDelay
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := newProcess(cmd)
	go p.reap(nil, func(err error) { out.Post(exitResult(err)) })
	return p, nil
}

// exitResult maps the error of cmd.Wait to a check result.
func exitResult(err error) probe.Result {
	if err == nil {
		return probe.Result{Value: true}
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return probe.Result{Err: probe.Tagged(probe.TagInternal, err)}
	}
	switch code := ee.ExitCode(); code {
	case -1:
		return probe.Result{Err: probe.Errorf(probe.TagCrashed, "worker killed: %v", ee)}
	case ExitNotReady:
		return probe.Result{Value: false}
	case ExitUsage, ExitDataErr:
		return probe.Result{Err: probe.Errorf(probe.TagInvalid, "exit status %d", code)}
	case ExitUnavailable:
		return probe.Result{Err: probe.Errorf(probe.TagUnavailable, "exit status %d", code)}
	case ExitTempFail:
		return probe.Result{Err: probe.Errorf(probe.TagTemporary, "exit status %d", code)}
	case ExitNoPerm:
		return probe.Result{Err: probe.Errorf(probe.TagPermission, "exit status %d", code)}
	default:
		return probe.Result{Err: probe.Tagged(probe.TagInternal, fmt.Errorf("exit status %d", code))}
	}
}
