package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/waitprobe/internal/check"
	"github.com/hamed0406/waitprobe/internal/config"
	"github.com/hamed0406/waitprobe/internal/domain"
	"github.com/hamed0406/waitprobe/internal/metrics"
	"github.com/hamed0406/waitprobe/internal/probe"
	"github.com/hamed0406/waitprobe/internal/repo"
	"github.com/hamed0406/waitprobe/internal/worker"
)

// ErrUnknownProbe is returned by Terminate for a name with no watch.
var ErrUnknownProbe = errors.New("unknown probe")

// Supervisor runs every watched probe on its interval and records each
// finished run.
type Supervisor struct {
	Logger *zap.Logger
	Runs   repo.RunStore

	watches []*watched
	byName  map[string]*watched
}

type watched struct {
	name     string
	target   string
	interval time.Duration
	probe    *probe.Probe
}

// ProbeStatus is the live view of one watch.
type ProbeStatus struct {
	Name     string `json:"name"`
	Target   string `json:"target,omitempty"`
	State    string `json:"state"`
	Alive    bool   `json:"alive"`
	Attempts int    `json:"attempts"`
	LastKind string `json:"last_kind,omitempty"`
	Interval string `json:"interval"`
}

// NewSupervisor builds a probe for every watch in f. reg is used for
// watches with isolate set and may be nil when none do.
func NewSupervisor(logger *zap.Logger, runs repo.RunStore, f *config.File, reg *worker.Registry) (*Supervisor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{Logger: logger, Runs: runs, byName: make(map[string]*watched)}
	for _, w := range f.Watches {
		p, err := NewProbe(w, reg, logger)
		if err != nil {
			return nil, err
		}
		ww := &watched{name: w.Name, target: describe(w), interval: w.Interval.Duration(), probe: p}
		s.watches = append(s.watches, ww)
		s.byName[w.Name] = ww
	}
	sort.Slice(s.watches, func(i, j int) bool { return s.watches[i].name < s.watches[j].name })
	return s, nil
}

// NewProbe builds the probe for one watch.
func NewProbe(w config.Watch, reg *worker.Registry, logger *zap.Logger) (*probe.Probe, error) {
	cfg := probe.Config{
		Name:      w.Name,
		Timeout:   w.Timeout.Duration(),
		Retryable: w.Retry,
	}
	if w.Pause != nil {
		cfg.Pause = w.Pause.Duration()
	}
	opts := []probe.Option{probe.WithLogger(logger), probe.WithObserver(metrics.Observer{})}

	switch {
	case len(w.Command) > 0:
		opts = append(opts, probe.WithInvoker(worker.Command(w.Command[0], w.Command[1:]...)))
	case w.Isolate:
		if reg == nil {
			return nil, fmt.Errorf("watch %q: isolate needs a worker registry", w.Name)
		}
		inv, err := reg.Invoker(w.Check, check.Args(w.Target, w.AttemptTimeout.Duration()))
		if err != nil {
			return nil, fmt.Errorf("watch %q: %w", w.Name, err)
		}
		opts = append(opts, probe.WithInvoker(inv))
	default:
		fn, ok := check.ByName(w.Check, w.Target, w.AttemptTimeout.Duration())
		if !ok {
			return nil, fmt.Errorf("watch %q: unknown check %q", w.Name, w.Check)
		}
		cfg.Check = fn
	}
	return probe.New(cfg, opts...)
}

func describe(w config.Watch) string {
	if len(w.Command) > 0 {
		return fmt.Sprint(w.Command)
	}
	return w.Check + " " + w.Target
}

// Run starts one loop per watch and blocks until ctx is cancelled and every
// probe has stopped. Each loop does an immediate run, then one per tick.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range s.watches {
		wg.Add(1)
		go func(w *watched) {
			defer wg.Done()
			s.loop(ctx, w)
		}(w)
	}
	wg.Wait()
	s.Logger.Info("supervisor_stopped")
}

func (s *Supervisor) loop(ctx context.Context, w *watched) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	s.runOnce(ctx, w)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runOnce(ctx, w)
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, w *watched) {
	if ctx.Err() != nil {
		return
	}
	metrics.SetRunning(w.name)
	started := time.Now().UTC()
	ready, err := w.probe.Run(ctx)
	if ctx.Err() != nil {
		// Shutting down; the run says nothing about the target.
		return
	}

	run := &domain.Run{
		ID:         domain.RunID(uuid.NewString()),
		Probe:      w.name,
		Target:     w.target,
		State:      w.probe.State().String(),
		Ready:      ready,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if o, ok := w.probe.Outcome(); ok {
		run.Attempts = o.Attempt.Seq
	}
	if err != nil {
		run.Error = err.Error()
	}
	if err := s.Runs.Append(ctx, run); err != nil {
		s.Logger.Warn("supervisor_append_error", zap.String("probe", w.name), zap.Error(err))
		return
	}
	s.Logger.Debug("supervisor_recorded",
		zap.String("probe", w.name),
		zap.String("state", run.State),
		zap.Int("attempts", run.Attempts),
		zap.Duration("took", run.Duration()),
	)
}

// Live reports every watch, ordered by name.
func (s *Supervisor) Live() []ProbeStatus {
	out := make([]ProbeStatus, 0, len(s.watches))
	for _, w := range s.watches {
		st := ProbeStatus{
			Name:     w.name,
			Target:   w.target,
			State:    w.probe.State().String(),
			Alive:    w.probe.IsAlive(),
			Interval: w.interval.String(),
		}
		if o, ok := w.probe.Outcome(); ok {
			st.Attempts = o.Attempt.Seq
			st.LastKind = o.Kind.String()
		}
		out = append(out, st)
	}
	return out
}

// Terminate stops the named probe's current run, if any. The watch keeps
// its schedule and runs again on the next tick.
func (s *Supervisor) Terminate(name string) error {
	w, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProbe, name)
	}
	w.probe.Terminate()
	return nil
}

// TerminateAll stops every running probe and waits for all of them.
func (s *Supervisor) TerminateAll() {
	g := probe.NewGroup()
	for _, w := range s.watches {
		g.Add(w.probe)
	}
	g.Terminate()
}
