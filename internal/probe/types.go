package probe

import (
	"context"
	"fmt"
	"math"
	"time"
)

// CheckFunc performs one check. Arguments are bound by closure. It should
// honour ctx, but a Probe does not rely on it for bounding time.
type CheckFunc func(ctx context.Context) (any, error)

// Config describes a probe. New copies it; the Probe never mutates it.
type Config struct {
	Name string
	// Timeout bounds the whole run, across all attempts. Must be > 0.
	Timeout time.Duration
	// Pause is slept between attempts and is the liveness poll interval
	// while an attempt runs. Must be >= 0.
	Pause time.Duration
	// Expected is the value that ends the run successfully. nil means true.
	Expected any
	// Retryable lists the error tags that are retried instead of failing the run.
	Retryable []Tag
	// Check is run by the default in-process invoker. Probes built with
	// WithInvoker may leave it nil.
	Check CheckFunc
}

// ParseSeconds converts a float number of seconds to a Duration. Negative,
// NaN and infinite inputs are rejected.
func ParseSeconds(s float64) (time.Duration, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
		return 0, fmt.Errorf("invalid seconds value %v", s)
	}
	if s > float64(math.MaxInt64)/float64(time.Second) {
		return 0, fmt.Errorf("seconds value %v out of range", s)
	}
	return time.Duration(s * float64(time.Second)), nil
}

// State is the lifecycle state of a probe run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateTimedOut
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s >= StateSucceeded }

// Kind classifies one attempt.
type Kind int

const (
	KindSuccess Kind = iota + 1
	KindMismatch
	KindRetryable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindMismatch:
		return "mismatch"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AttemptID identifies one attempt: Run is unique per run, Seq counts from 1.
type AttemptID struct {
	Run string
	Seq int
}

func (id AttemptID) String() string { return fmt.Sprintf("%s/%d", id.Run, id.Seq) }

// Result is what a worker posts: a returned value or an error.
type Result struct {
	Attempt AttemptID
	Value   any
	Err     error
}

// Outcome is a classified attempt.
type Outcome struct {
	Kind    Kind
	Attempt AttemptID
	Value   any
	Err     error
	// Elapsed is measured from the start of the run.
	Elapsed time.Duration
}

// Decoder is implemented by values that arrive encoded, e.g. from a worker
// process. Decode stores the value into target, a pointer.
type Decoder interface {
	Decode(target any) error
}

// Observer receives probe events. Implementations must be safe for
// concurrent use; calls are made from the probe's loop goroutine.
type Observer interface {
	AttemptFinished(probe string, o Outcome)
	RunFinished(probe string, s State, d time.Duration)
}
