package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/waitprobe/internal/check"
	"github.com/hamed0406/waitprobe/internal/config"
	"github.com/hamed0406/waitprobe/internal/logging"
	"github.com/hamed0406/waitprobe/internal/probe"
	"github.com/hamed0406/waitprobe/internal/worker"
)

// probeFlags are shared by every command that runs a single probe.
type probeFlags struct {
	name           string
	timeout        string
	pause          string
	attemptTimeout string
	retry          string
	isolate        bool
}

func addProbeFlags(c *cobra.Command, f *probeFlags, env config.Config) {
	fs := c.Flags()
	fs.StringVar(&f.name, "name", "", "probe name used in logs (default: the target)")
	fs.StringVarP(&f.timeout, "timeout", "t", env.Timeout.String(), "give up after this long, in seconds or as a duration")
	fs.StringVarP(&f.pause, "pause", "p", env.Pause.String(), "pause between attempts, in seconds or as a duration")
	fs.StringVar(&f.attemptTimeout, "attempt-timeout", "", "bound a single attempt's network I/O (default 5s)")
	fs.StringVar(&f.retry, "retry", joinTags(env.RetryTags), "error tags to retry: "+joinTags(probe.Tags()))
}

func joinTags(tags []probe.Tag) string {
	s := make([]string, len(tags))
	for i, t := range tags {
		s[i] = string(t)
	}
	return strings.Join(s, ",")
}

// config turns the flags into a probe.Config without a check.
func (f *probeFlags) config(name string) (probe.Config, error) {
	timeout, err := config.ParseSeconds(f.timeout)
	if err != nil {
		return probe.Config{}, fmt.Errorf("--timeout: %w", err)
	}
	pause, err := config.ParseSeconds(f.pause)
	if err != nil {
		return probe.Config{}, fmt.Errorf("--pause: %w", err)
	}
	retry, err := probe.ParseTags(f.retry)
	if err != nil {
		return probe.Config{}, fmt.Errorf("--retry: %w", err)
	}
	if f.name != "" {
		name = f.name
	}
	return probe.Config{Name: name, Timeout: timeout, Pause: pause, Retryable: retry}, nil
}

func (f *probeFlags) perAttempt() (time.Duration, error) {
	if f.attemptTimeout == "" {
		return 0, nil
	}
	d, err := config.ParseSeconds(f.attemptTimeout)
	if err != nil {
		return 0, fmt.Errorf("--attempt-timeout: %w", err)
	}
	return d, nil
}

// inProcess returns the built-in check name bound to target.
func inProcess(name, target string, attempt time.Duration) (probe.CheckFunc, error) {
	fn, ok := check.ByName(name, target, attempt)
	if !ok {
		return nil, fmt.Errorf("unknown check %q", name)
	}
	return fn, nil
}

func newCheckCmd(reg *worker.Registry, name, use, short string) *cobra.Command {
	env := config.FromEnv()
	f := &probeFlags{}
	c := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			cfg, err := f.config(name + " " + target)
			if err != nil {
				return err
			}
			attempt, err := f.perAttempt()
			if err != nil {
				return err
			}

			var opts []probe.Option
			if f.isolate {
				inv, err := reg.Invoker(name, check.Args(target, attempt))
				if err != nil {
					return err
				}
				opts = append(opts, probe.WithInvoker(inv))
			} else if cfg.Check, err = inProcess(name, target, attempt); err != nil {
				return err
			}
			return runProbe(cmd, cfg, opts...)
		},
	}
	addProbeFlags(c, f, env)
	c.Flags().BoolVar(&f.isolate, "isolate", false, "run each attempt in a separate worker process")
	return c
}

func newExecCmd() *cobra.Command {
	env := config.FromEnv()
	f := &probeFlags{}
	c := &cobra.Command{
		Use:   "exec [flags] -- <command> [args...]",
		Short: "Wait until a command exits 0",
		Long: `Run a command once per attempt until it exits 0.

Exit status 1 means "not ready yet" and is retried. Other codes follow
sysexits: 64/65 invalid, 69 unavailable, 75 temporary, 77 permission.
The command runs in its own process group, which is killed at the deadline.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(strings.Join(args, " "))
			if err != nil {
				return err
			}
			inv := worker.Command(args[0], args[1:]...)
			inv.Stdout = cmd.ErrOrStderr()
			inv.Stderr = cmd.ErrOrStderr()
			return runProbe(cmd, cfg, probe.WithInvoker(inv))
		},
	}
	addProbeFlags(c, f, env)
	return c
}

// runProbe runs one probe in the foreground until it ends or the process
// is interrupted.
func runProbe(cmd *cobra.Command, cfg probe.Config, opts ...probe.Option) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := probe.New(cfg, append([]probe.Option{probe.WithLogger(logger)}, opts...)...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(background(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if _, err := p.Run(ctx); err != nil {
		return err
	}
	attempts := 0
	if o, ok := p.Outcome(); ok {
		attempts = o.Attempt.Seq
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ready: %s (%d attempts, %s)\n",
		cfg.Name, attempts, time.Since(start).Round(time.Millisecond))
	return nil
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	env := config.FromEnv()
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		env.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-dir"); v != "" {
		env.LogDir = v
	}
	return logging.NewLogger(env.LogDir, env.LogLevel)
}

// background is used where cobra has no context yet.
func background(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
