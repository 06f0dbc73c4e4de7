package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hamed0406/waitprobe/internal/config"
)

func newValidateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "validate",
		Short: "Validate a watch file",
		Long: `Validate a watch file without running anything.

This parses the YAML, expands environment variables, applies defaults and
reports every problem at once. It also warns about environment settings
that watch mode will probably need.

Exit codes:
  0 - the file is valid
  3 - the file is invalid (details on stderr)

Example:
  waitprobe validate -c watch.yaml`,
		Args: cobra.NoArgs,
		RunE: runValidate,
	}
	c.Flags().StringP("config", "c", "", "path to watch file (required)")
	_ = c.MarkFlagRequired("config")
	return c
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	f, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✔ config is valid")
	for _, w := range f.Watches {
		what := w.Check + " " + w.Target
		if len(w.Command) > 0 {
			what = "exec " + strings.Join(w.Command, " ")
		}
		if w.Isolate {
			what += " (isolated)"
		}
		fmt.Fprintf(out, "  %-20s %s  timeout=%s every=%s\n",
			w.Name, what, w.Timeout.Duration(), w.Interval.Duration())
	}
	warnEnv(cmd.ErrOrStderr(), config.FromEnv())
	return nil
}

// warnEnv points out settings that are legal but probably unintended.
func warnEnv(w io.Writer, env config.Config) {
	warn := func(msg string) { fmt.Fprintln(w, "⚠", msg) }
	if len(env.AdminAPIKeys) == 0 && len(env.PublicAPIKeys) == 0 {
		warn("no API keys set (ADMIN_API_KEYS, PUBLIC_API_KEYS); the API is open to anyone who can reach it")
	} else if len(env.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty; terminate requests will be refused")
	}
	if env.SlackWebhook == "" {
		warn("SLACK_WEBHOOK is empty; alerts only go to the log")
	}
	if len(env.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS is empty; any browser origin may call the API")
	}
}
