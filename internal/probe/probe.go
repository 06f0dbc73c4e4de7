// Package probe polls a check until it returns an expected value or a
// deadline elapses. Each attempt runs in its own worker and delivers its
// result on its own Channel; a worker still running at the deadline is
// killed and reaped before Run returns.
package probe

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrTerminated is the cancellation cause used by Terminate.
var ErrTerminated = errors.New("probe terminated")

var errDeadline = errors.New("deadline reached")

// Probe runs a check repeatedly until it matches. A Probe may be run many
// times, but only one run is active at a time.
type Probe struct {
	cfg       Config
	retryable map[Tag]struct{}
	invoker   Invoker
	logger    *zap.Logger
	observers []Observer

	mu     sync.Mutex
	active bool
	state  State
	last   *Outcome
	err    error
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Option customises a Probe.
type Option func(*Probe)

// WithInvoker replaces the default in-process invoker built from Config.Check.
func WithInvoker(inv Invoker) Option {
	return func(p *Probe) { p.invoker = inv }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Probe) { p.logger = l }
}

// WithObserver adds an observer, e.g. metrics.Observer.
func WithObserver(o Observer) Option {
	return func(p *Probe) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// New validates cfg and returns a Probe holding a private copy of it.
func New(cfg Config, opts ...Option) (*Probe, error) {
	var err error
	if cfg.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("timeout must be > 0, got %s", cfg.Timeout))
	}
	if cfg.Pause < 0 {
		err = multierr.Append(err, fmt.Errorf("pause must be >= 0, got %s", cfg.Pause))
	}
	if cfg.Expected == nil {
		cfg.Expected = true
	}
	cfg.Retryable = append([]Tag(nil), cfg.Retryable...)

	p := &Probe{cfg: cfg, retryable: make(map[Tag]struct{}, len(cfg.Retryable))}
	for _, t := range cfg.Retryable {
		if t != "" {
			p.retryable[t] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.invoker == nil {
		if cfg.Check == nil {
			err = multierr.Append(err, errors.New("either a check function or an invoker is required"))
		} else {
			p.invoker = &TaskInvoker{Check: cfg.Check}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", cfg.Name, err)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.With(zap.String("probe", cfg.Name))
	return p, nil
}

// Name returns the configured name.
func (p *Probe) Name() string { return p.cfg.Name }

// Config returns a copy of the configuration.
func (p *Probe) Config() Config {
	c := p.cfg
	c.Retryable = append([]Tag(nil), p.cfg.Retryable...)
	return c
}

// Run blocks until the check returns the expected value (true, nil), the
// timeout elapses (*TimeoutError), the check fails with a non-retryable
// error (*FatalError), a worker cannot be started (*WorkerStartError) or
// ctx is cancelled. The first attempt always starts, however small the
// timeout, but it is still killed when the timeout elapses.
func (p *Probe) Run(ctx context.Context) (bool, error) {
	rctx, err := p.begin(ctx)
	if err != nil {
		return false, err
	}
	state, err := p.loop(rctx)
	p.end(state, err)
	return err == nil, err
}

func (p *Probe) begin(parent context.Context) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancelCause(parent)
	p.active = true
	p.state = StateRunning
	p.last = nil
	p.err = nil
	p.cancel = cancel
	p.done = make(chan struct{})
	return ctx, nil
}

func (p *Probe) end(state State, err error) {
	p.mu.Lock()
	p.state = state
	p.err = err
	p.active = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	cancel(nil)
	close(done)
}

func (p *Probe) loop(ctx context.Context) (State, error) {
	runID := uuid.NewString()
	log := p.logger.With(zap.String("run", runID))
	start := time.Now()
	deadline := time.NewTimer(p.cfg.Timeout)
	defer deadline.Stop()

	log.Debug("probe_run_started",
		zap.Duration("timeout", p.cfg.Timeout),
		zap.Duration("pause", p.cfg.Pause),
	)

	var last *Outcome
	timedOut := func(attempts int) (State, error) {
		return p.finish(log, StateTimedOut, start, &TimeoutError{
			Probe:    p.cfg.Name,
			Timeout:  p.cfg.Timeout,
			Elapsed:  time.Since(start),
			Attempts: attempts,
			Last:     last,
		})
	}
	cancelled := func() (State, error) {
		return p.finish(log, StateCancelled, start,
			fmt.Errorf("probe %q cancelled: %w", p.cfg.Name, context.Cause(ctx)))
	}

	for seq := 1; ; seq++ {
		id := AttemptID{Run: runID, Seq: seq}
		o, err := p.attempt(ctx, log, id, start, deadline.C)
		switch {
		case errors.Is(err, errDeadline):
			return timedOut(seq)
		case err != nil && ctx.Err() != nil:
			return cancelled()
		case err != nil:
			return p.finish(log, StateFailed, start, err)
		}

		p.record(o)
		switch o.Kind {
		case KindSuccess:
			return p.finish(log, StateSucceeded, start, nil)
		case KindFatal:
			return p.finish(log, StateFailed, start, &FatalError{Probe: p.cfg.Name, Attempt: seq, Err: o.Err})
		}
		last = &o
		log.Debug("probe_attempt_not_ready",
			zap.Int("attempt", seq),
			zap.Stringer("kind", o.Kind),
			zap.Any("value", o.Value),
			zap.Error(o.Err),
			zap.Duration("elapsed", o.Elapsed),
		)

		// The deadline timer may already have been drained by a result that
		// won the tie in attempt.
		if time.Since(start) >= p.cfg.Timeout {
			return timedOut(seq)
		}
		if p.cfg.Pause <= 0 {
			select {
			case <-deadline.C:
				return timedOut(seq)
			case <-ctx.Done():
				return cancelled()
			default:
			}
			continue
		}
		pause := time.NewTimer(p.cfg.Pause)
		select {
		case <-pause.C:
		case <-deadline.C:
			pause.Stop()
			return timedOut(seq)
		case <-ctx.Done():
			pause.Stop()
			return cancelled()
		}
	}
}

// attempt runs one worker to completion, the deadline, or cancellation.
func (p *Probe) attempt(ctx context.Context, log *zap.Logger, id AttemptID, start time.Time, deadline <-chan time.Time) (Outcome, error) {
	out := NewChannel(id)
	w, err := p.invoker.Start(ctx, id, out)
	if err != nil {
		log.Error("probe_worker_start_failed", zap.Int("attempt", id.Seq), zap.Error(err))
		return Outcome{}, &WorkerStartError{Probe: p.cfg.Name, Attempt: id.Seq, Err: err}
	}

	var tick <-chan time.Time
	if p.cfg.Pause > 0 {
		t := time.NewTicker(p.cfg.Pause)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case r := <-out.Receive():
			p.stopWorker(log, id, w, out)
			return p.classify(r, start), nil

		case <-w.Exited():
			// A worker posts before it exits, so a result may be waiting.
			select {
			case r := <-out.Receive():
				p.stopWorker(log, id, w, out)
				return p.classify(r, start), nil
			default:
			}
			out.Seal()
			cause := ErrNoResult
			if xe := w.ExitErr(); xe != nil {
				cause = fmt.Errorf("%w: %v", ErrNoResult, xe)
			}
			log.Warn("probe_worker_vanished", zap.Int("attempt", id.Seq), zap.Error(w.ExitErr()))
			return Outcome{Kind: KindFatal, Attempt: id, Err: cause, Elapsed: time.Since(start)}, nil

		case <-deadline:
			select {
			case r := <-out.Receive():
				p.stopWorker(log, id, w, out)
				return p.classify(r, start), nil
			default:
			}
			p.stopWorker(log, id, w, out)
			return Outcome{}, errDeadline

		case <-ctx.Done():
			p.stopWorker(log, id, w, out)
			return Outcome{}, context.Cause(ctx)

		case <-tick:
			log.Debug("probe_attempt_running",
				zap.Int("attempt", id.Seq),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
	}
}

// stopWorker seals the attempt's channel and kills and reaps its worker.
func (p *Probe) stopWorker(log *zap.Logger, id AttemptID, w Worker, out *Channel) {
	out.Seal()
	if err := w.Kill(); err != nil {
		log.Warn("probe_worker_kill", zap.Int("attempt", id.Seq), zap.Error(err))
	}
}

func (p *Probe) classify(r Result, start time.Time) Outcome {
	o := Outcome{Attempt: r.Attempt, Value: r.Value, Err: r.Err, Elapsed: time.Since(start)}
	if r.Err != nil {
		if _, ok := p.retryable[TagOf(r.Err)]; ok {
			o.Kind = KindRetryable
		} else {
			o.Kind = KindFatal
		}
		return o
	}
	v, err := decodeAs(r.Value, p.cfg.Expected)
	if err != nil {
		o.Kind = KindFatal
		o.Err = Tagged(TagInvalid, fmt.Errorf("decode result: %w", err))
		return o
	}
	o.Value = v
	if equal(v, p.cfg.Expected) {
		o.Kind = KindSuccess
	} else {
		o.Kind = KindMismatch
	}
	return o
}

func (p *Probe) record(o Outcome) {
	p.mu.Lock()
	p.last = &o
	p.mu.Unlock()
	for _, obs := range p.observers {
		obs.AttemptFinished(p.cfg.Name, o)
	}
}

func (p *Probe) finish(log *zap.Logger, state State, start time.Time, err error) (State, error) {
	elapsed := time.Since(start)
	switch state {
	case StateSucceeded:
		log.Info("probe_succeeded", zap.Duration("elapsed", elapsed))
	case StateTimedOut:
		log.Warn("probe_timed_out", zap.Duration("elapsed", elapsed), zap.Error(err))
	case StateCancelled:
		log.Info("probe_cancelled", zap.Duration("elapsed", elapsed))
	default:
		log.Error("probe_failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	}
	for _, obs := range p.observers {
		obs.RunFinished(p.cfg.Name, state, elapsed)
	}
	return state, err
}

// decodeAs turns an encoded value into want's type. Other values pass through.
func decodeAs(v, want any) (any, error) {
	d, ok := v.(Decoder)
	if !ok || want == nil {
		return v, nil
	}
	ptr := reflect.New(reflect.TypeOf(want))
	if err := d.Decode(ptr.Interface()); err != nil {
		return v, err
	}
	return ptr.Elem().Interface(), nil
}

func equal(got, want any) (eq bool) {
	if got == nil || want == nil {
		return got == nil && want == nil
	}
	if !reflect.TypeOf(got).Comparable() || !reflect.TypeOf(want).Comparable() {
		return reflect.DeepEqual(got, want)
	}
	// Comparable types can still hold non-comparable dynamic values.
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(got, want)
		}
	}()
	return got == want
}
