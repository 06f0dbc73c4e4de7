// Package main is the waitprobe CLI.
//
// Usage:
//
//	waitprobe tcp db:5432 --timeout 30          # wait for a port
//	waitprobe http http://localhost:8080/healthz
//	waitprobe dns db.internal --retry not_found,temporary
//	waitprobe exec -- pg_isready -h db          # wait for a command to exit 0
//	waitprobe watch -c watch.yaml               # run probes on a schedule
//	waitprobe validate -c watch.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hamed0406/waitprobe/internal/check"
	"github.com/hamed0406/waitprobe/internal/probe"
	"github.com/hamed0406/waitprobe/internal/worker"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

// Exit codes.
const (
	exitOK        = 0
	exitTimeout   = 1
	exitFatal     = 2
	exitEnv       = 3 // worker could not start, bad usage or config
	exitCancelled = 130
)

func main() {
	reg := newRegistry()
	// A re-executed worker runs its check and nothing else.
	if worker.IsWorker() {
		os.Exit(reg.Serve(context.Background()))
	}
	os.Exit(execute(os.Args[1:], reg, os.Stdout, os.Stderr))
}

func newRegistry() *worker.Registry {
	reg := worker.NewRegistry()
	reg.Stderr = os.Stderr
	check.Register(reg)
	return reg
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, reg *worker.Registry, out, errOut io.Writer) int {
	root := newRootCmd(reg)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(errOut, "Error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, probe.ErrTimeout):
		return exitTimeout
	case errors.Is(err, probe.ErrWorkerStart):
		return exitEnv
	case errors.Is(err, probe.ErrFatal):
		return exitFatal
	case errors.Is(err, context.Canceled), errors.Is(err, probe.ErrTerminated):
		return exitCancelled
	default:
		return exitEnv
	}
}

func newRootCmd(reg *worker.Registry) *cobra.Command {
	root := &cobra.Command{
		Use:   "waitprobe",
		Short: "Wait until a condition holds, within a deadline",
		Long: `waitprobe polls a check until it returns the expected value or a
timeout elapses. Every attempt runs in its own worker; an attempt still
running at the deadline is killed.

Exit codes:
  0 - the condition holds
  1 - timed out
  2 - the check failed with an error that is not retried
  3 - a worker could not be started, or bad usage / config`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().String("log-dir", "", "write logs to a rotated file in this directory; overrides LOG_DIR")

	root.AddCommand(
		newCheckCmd(reg, check.NameTCP, "tcp <host:port>", "Wait until a TCP port accepts connections"),
		newCheckCmd(reg, check.NameHTTP, "http <url>", "Wait until a URL answers with 2xx or 3xx"),
		newCheckCmd(reg, check.NameDNS, "dns <name>", "Wait until a name resolves to an address"),
		newExecCmd(),
		newWatchCmd(reg),
		newValidateCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "waitprobe %s (%s)\n", version, commit)
			},
		},
	)
	return root
}
