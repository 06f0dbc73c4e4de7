package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/waitprobe/internal/config"
	"github.com/hamed0406/waitprobe/internal/httpapi"
	apimw "github.com/hamed0406/waitprobe/internal/httpapi/middleware"
	"github.com/hamed0406/waitprobe/internal/metrics"
	"github.com/hamed0406/waitprobe/internal/notify"
	"github.com/hamed0406/waitprobe/internal/repo/memory"
	"github.com/hamed0406/waitprobe/internal/scheduler"
	"github.com/hamed0406/waitprobe/internal/worker"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	rateBurst         = 30
)

func newWatchCmd(reg *worker.Registry) *cobra.Command {
	c := &cobra.Command{
		Use:   "watch",
		Short: "Run probes on a schedule and serve their state",
		Long: `Run every probe in a watch file on its interval, keep a history of
runs, send alerts when a probe stops or starts being ready, and serve the
state over HTTP:

  GET  /healthz
  GET  /metrics
  GET  /api/runs[?probe=name&limit=n]
  GET  /api/probes
  POST /api/probes/{name}/terminate   (admin key)

Runs until interrupted (Ctrl+C) or SIGTERM.

Example:
  waitprobe watch -c watch.yaml
  waitprobe watch -c watch.yaml --addr off`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, reg)
		},
	}
	c.Flags().StringP("config", "c", "", "path to watch file (required)")
	c.Flags().String("addr", "", `API listen address; overrides api_addr and API_ADDR, "off" disables the API`)
	_ = c.MarkFlagRequired("config")
	return c
}

func runWatch(cmd *cobra.Command, reg *worker.Registry) error {
	path, _ := cmd.Flags().GetString("config")
	f, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	env := config.FromEnv()

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	store := memory.New(0)
	sup, err := scheduler.NewSupervisor(logger, store, f, reg)
	if err != nil {
		return err
	}

	notifiers := notify.Multi{notify.Log{Logger: logger}}
	if s := notify.NewSlack(env.SlackWebhook); s != nil {
		notifiers = append(notifiers, s)
	}
	alerter := scheduler.NewAlerter(store, store, notifiers, scheduler.AlerterConfig{
		AlertOnRecovery: env.AlertOnRecovery,
		Cooldown:        env.AlertCooldown,
	}, logger)

	ctx, stop := signal.NotifyContext(background(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sup.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = alerter.Run(ctx)
	}()

	addr := apiAddr(cmd, f, env)
	logger.Info("watch_started",
		zap.Int("watches", len(f.Watches)),
		zap.String("api_addr", addr),
		zap.Bool("slack", env.SlackWebhook != ""),
	)

	var serveErr error
	if addr != "" {
		api := httpapi.NewServer(logger, store, sup)
		srv := &http.Server{
			Addr: addr,
			Handler: api.Router(httpapi.Options{
				Keys:           apimw.Keys{Public: env.PublicAPIKeys, Admin: env.AdminAPIKeys},
				AllowedOrigins: env.AllowedOrigins,
				RatePerMin:     env.RateLimitPerMin,
				RateBurst:      rateBurst,
			}),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				serveErr = fmt.Errorf("api server: %w", err)
			}
			stop()
		case <-ctx.Done():
		}

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("api_shutdown_error", zap.Error(err))
		}
	} else {
		<-ctx.Done()
	}

	// Probes stop with ctx; make sure their workers are reaped before exit.
	sup.TerminateAll()
	wg.Wait()
	logger.Info("watch_stopped")
	return serveErr
}

func apiAddr(cmd *cobra.Command, f *config.File, env config.Config) string {
	addr, _ := cmd.Flags().GetString("addr")
	switch {
	case addr != "":
	case f.APIAddr != "":
		addr = f.APIAddr
	default:
		addr = env.APIAddr
	}
	if addr == "off" {
		return ""
	}
	return addr
}
