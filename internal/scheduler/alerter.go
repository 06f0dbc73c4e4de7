package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/waitprobe/internal/domain"
	"github.com/hamed0406/waitprobe/internal/notify"
	"github.com/hamed0406/waitprobe/internal/probe"
	"github.com/hamed0406/waitprobe/internal/repo"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	PollInterval    time.Duration
}

// Alerter notifies when a watched probe stops or starts being ready.
type Alerter struct {
	runs     repo.RunStore
	alertDB  repo.AlertStore
	notifier notify.Notifier
	cfg      AlerterConfig
	logger   *zap.Logger
}

func NewAlerter(
	runs repo.RunStore,
	alertDB repo.AlertStore,
	notifier notify.Notifier,
	cfg AlerterConfig,
	logger *zap.Logger,
) *Alerter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{
		runs:     runs,
		alertDB:  alertDB,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

func (a *Alerter) Run(ctx context.Context) error {
	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()

	// initial pass
	a.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			a.scan(ctx)
		}
	}
}

func (a *Alerter) scan(ctx context.Context) {
	if err := a.scanOnce(ctx); err != nil {
		a.logger.Warn("alerter_scan_error", zap.Error(err))
	}
}

func (a *Alerter) scanOnce(ctx context.Context) error {
	rows, err := a.runs.Latest(ctx)
	if err != nil {
		return err
	}

	now := time.Now()

	for _, r := range rows {
		// A terminated run says nothing about the target.
		if r.State == probe.StateCancelled.String() {
			continue
		}
		rec, err := a.alertDB.Get(ctx, r.Probe)
		if err != nil {
			return err
		}

		stateChanged := rec == nil || rec.LastReady != r.Ready

		// Cooldown only suppresses repeated failure alerts.
		cooled := true
		if rec != nil && rec.LastSentAt != nil {
			cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
		}

		failAlert := stateChanged && !r.Ready && cooled
		recoveryAlert := stateChanged && r.Ready && rec != nil && a.cfg.AlertOnRecovery

		next := domain.AlertRecord{Probe: r.Probe, LastReady: r.Ready}
		if rec != nil {
			next.LastSentAt = rec.LastSentAt
		}

		if failAlert || recoveryAlert {
			if err := a.notifier.Send(ctx, alertFor(r)); err != nil {
				a.logger.Warn("alerter_send_error", zap.String("probe", r.Probe), zap.Error(err))
			}
			sent := now
			next.LastSentAt = &sent
			if err := a.alertDB.Set(ctx, next); err != nil {
				return err
			}
			continue
		}

		// Record the new state even when nothing was sent.
		if stateChanged {
			if err := a.alertDB.Set(ctx, next); err != nil {
				return err
			}
		}
	}

	return nil
}

func alertFor(r domain.Run) notify.Alert {
	title := "🔴 Probe NOT READY"
	if r.Ready {
		title = "🟢 Probe READY"
	}
	return notify.Alert{Title: title, Run: r}
}
