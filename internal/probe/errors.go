package probe

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("probe timed out")
	// ErrFatal matches every *FatalError.
	ErrFatal = errors.New("probe check failed")
	// ErrWorkerStart matches every *WorkerStartError.
	ErrWorkerStart = errors.New("probe worker could not start")
	// ErrNoResult is the cause of a FatalError when a worker exited without
	// posting a result.
	ErrNoResult = errors.New("worker exited without posting a result")
	// ErrBusy is returned when Run or Start is called while the probe is running.
	ErrBusy = errors.New("probe is already running")
)

// TimeoutError reports that the deadline elapsed before the check returned
// the expected value.
type TimeoutError struct {
	Probe    string
	Timeout  time.Duration
	Elapsed  time.Duration
	Attempts int
	// Last is the last classified attempt, if any completed.
	Last *Outcome
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("probe %q timed out after %s (%d attempts)", e.Probe, e.Timeout, e.Attempts)
	if e.Last != nil {
		switch e.Last.Kind {
		case KindMismatch:
			msg += fmt.Sprintf(", last value %v", e.Last.Value)
		case KindRetryable:
			msg += fmt.Sprintf(", last error: %v", e.Last.Err)
		}
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// FatalError wraps an error from the check that is not retryable. The
// original error stays reachable through errors.Is / errors.As.
type FatalError struct {
	Probe   string
	Attempt int
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("probe %q attempt %d: %v", e.Probe, e.Attempt, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Is(target error) bool { return target == ErrFatal }

// WorkerStartError reports that the isolated worker could not be launched.
// It means the environment is broken, not that the condition failed.
type WorkerStartError struct {
	Probe   string
	Attempt int
	Err     error
}

func (e *WorkerStartError) Error() string {
	return fmt.Sprintf("probe %q attempt %d: start worker: %v", e.Probe, e.Attempt, e.Err)
}

func (e *WorkerStartError) Unwrap() error { return e.Err }

func (e *WorkerStartError) Is(target error) bool { return target == ErrWorkerStart }
