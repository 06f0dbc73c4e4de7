package probe

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultKillGrace is how long a TaskInvoker worker is given to return after
// its context is cancelled before it is abandoned.
const DefaultKillGrace = 200 * time.Millisecond

// ErrAbandoned is returned by Kill when an in-process worker did not return
// after cancellation. Its channel is sealed, so a late result is discarded,
// but the goroutine itself keeps running until the check returns.
var ErrAbandoned = errors.New("worker ignored cancellation and was abandoned")

// Invoker launches one attempt in an isolated execution context. The worker
// must post at most one Result onto out.
//
// A non-nil error means the worker could not be started at all; the poller
// reports it as a WorkerStartError, never as a check failure.
type Invoker interface {
	Start(ctx context.Context, id AttemptID, out *Channel) (Worker, error)
}

// Worker is the handle of a running attempt.
type Worker interface {
	// Exited is closed once the execution context has finished and, for
	// processes, has been reaped. A worker posts its result before closing it.
	Exited() <-chan struct{}
	// ExitErr describes how the worker ended. Valid after Exited is closed.
	ExitErr() error
	// Kill forcibly terminates the worker and blocks until it is gone.
	// It is safe to call after the worker exited, and more than once.
	Kill() error
}

// TaskInvoker runs a CheckFunc on its own goroutine with a cancellable
// context. It bounds hangs but cannot contain a crash of the whole process;
// use a worker.CommandInvoker or worker.Registry for process isolation.
type TaskInvoker struct {
	Check     CheckFunc
	KillGrace time.Duration
}

func (t *TaskInvoker) Start(ctx context.Context, id AttemptID, out *Channel) (Worker, error) {
	if t.Check == nil {
		return nil, errors.New("task invoker has no check function")
	}
	grace := t.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	cctx, cancel := context.WithCancel(ctx)
	w := &task{cancel: cancel, grace: grace, exited: make(chan struct{})}
	go w.run(cctx, t.Check, out)
	return w, nil
}

type task struct {
	cancel context.CancelFunc
	grace  time.Duration
	exited chan struct{}

	mu  sync.Mutex
	err error
}

func (w *task) run(ctx context.Context, check CheckFunc, out *Channel) {
	defer close(w.exited)
	defer w.cancel()
	defer func() {
		if r := recover(); r != nil {
			err := Errorf(TagCrashed, "check panicked: %v", r)
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			out.Post(Result{Err: err})
		}
	}()
	v, err := check(ctx)
	out.Post(Result{Value: v, Err: err})
}

func (w *task) Exited() <-chan struct{} { return w.exited }

func (w *task) ExitErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *task) Kill() error {
	w.cancel()
	select {
	case <-w.exited:
		return nil
	default:
	}
	t := time.NewTimer(w.grace)
	defer t.Stop()
	select {
	case <-w.exited:
		return nil
	case <-t.C:
		return ErrAbandoned
	}
}
