package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/waitprobe/internal/domain"
)

// Alert is a change in a probe's readiness.
type Alert struct {
	Title string
	Run   domain.Run
}

// Text renders the run for plain-text channels.
func (a Alert) Text() string {
	r := a.Run
	reason := r.Error
	if reason == "" {
		reason = "n/a"
	}
	return fmt.Sprintf(
		"Probe: %s\nTarget: %s\nState: %s\nAttempts: %d\nTook: %s\nReason: %s\nFinished: %s",
		r.Probe, r.Target, r.State, r.Attempts, r.Duration().Round(time.Millisecond),
		reason, r.FinishedAt.Format(time.RFC3339),
	)
}

type Notifier interface {
	Send(ctx context.Context, a Alert) error
}

// Multi sends to every notifier and combines their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, a Alert) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, a))
	}
	return err
}

// Log writes notifications to a logger. Watch mode always includes it so
// alerts are visible without a webhook.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Send(_ context.Context, a Alert) error {
	l.Logger.Info("alert",
		zap.String("title", a.Title),
		zap.String("probe", a.Run.Probe),
		zap.String("state", a.Run.State),
		zap.Bool("ready", a.Run.Ready),
		zap.Int("attempts", a.Run.Attempts),
		zap.String("error", a.Run.Error),
	)
	return nil
}
