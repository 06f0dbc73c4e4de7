// Package metrics exposes probe activity as Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/waitprobe/internal/probe"
)

var (
	regOK atomic.Bool

	attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waitprobe",
			Subsystem: "probe",
			Name:      "attempts_total",
			Help:      "Classified probe attempts by kind.",
		}, []string{"probe", "kind"},
	)
	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waitprobe",
			Subsystem: "probe",
			Name:      "runs_total",
			Help:      "Finished probe runs by final state.",
		}, []string{"probe", "state"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "waitprobe",
			Subsystem: "probe",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of finished probe runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"probe"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "waitprobe",
			Subsystem: "probe",
			Name:      "running",
			Help:      "1 while a probe run is active.",
		}, []string{"probe"},
	)
)

// Register registers the collectors with r. Calling it again after a
// successful registration is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range []prometheus.Collector{attempts, runs, runDuration, running, httpRequests, httpDuration} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Observer records probe events. Recording is a no-op until Register succeeds.
type Observer struct{}

var _ probe.Observer = Observer{}

func (Observer) AttemptFinished(name string, o probe.Outcome) {
	if !regOK.Load() {
		return
	}
	attempts.WithLabelValues(name, o.Kind.String()).Inc()
}

func (Observer) RunFinished(name string, s probe.State, d time.Duration) {
	if !regOK.Load() {
		return
	}
	runs.WithLabelValues(name, s.String()).Inc()
	runDuration.WithLabelValues(name).Observe(d.Seconds())
	running.WithLabelValues(name).Set(0)
}

// SetRunning marks a probe as running; RunFinished clears it.
func SetRunning(name string) {
	if regOK.Load() {
		running.WithLabelValues(name).Set(1)
	}
}
