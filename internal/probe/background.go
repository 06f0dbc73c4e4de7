package probe

import "context"

// Start runs the probe on its own goroutine and returns at once. Use
// IsAlive, Terminate and Join to control it. Cancelling ctx cancels the run.
func (p *Probe) Start(ctx context.Context) error {
	rctx, err := p.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		state, err := p.loop(rctx)
		p.end(state, err)
	}()
	return nil
}

// IsAlive reports whether a run, including its current worker, is still
// executing. It is safe to call at any time.
func (p *Probe) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Terminate cancels the active run, kills its worker and blocks until the
// worker is reaped and the run has stopped. Calling it when nothing runs,
// or more than once, does nothing.
func (p *Probe) Terminate() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if done == nil {
		return
	}
	cancel(ErrTerminated)
	<-done
}

// Join blocks until the current run has stopped and returns its error.
// Succeeded and cancelled runs, and probes never started, return nil.
func (p *Probe) Join() error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateCancelled {
		return nil
	}
	return p.err
}

// Done returns a channel closed when the current run stops, or nil if the
// probe was never started.
func (p *Probe) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// State returns the state of the current or last run.
func (p *Probe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Outcome returns the last classified attempt of the current or last run.
func (p *Probe) Outcome() (Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Outcome{}, false
	}
	return *p.last, true
}

// Err returns the error of the last finished run.
func (p *Probe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
