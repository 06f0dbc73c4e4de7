package probe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func sleepThen(d time.Duration, v any) CheckFunc {
	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestTerminateJoin_NeverStarted(t *testing.T) {
	p := newProbe(t, Config{Timeout: time.Second, Check: always(true, nil)})

	done := make(chan error, 1)
	go func() {
		p.Terminate()
		p.Terminate()
		done <- p.Join()
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Join on idle probe: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Terminate/Join on idle probe blocked")
	}
	if p.IsAlive() || p.State() != StateIdle || p.Done() != nil {
		t.Fatalf("idle probe reports alive=%v state=%s", p.IsAlive(), p.State())
	}
}

func TestStart_DetachedProbesDoNotInterfere(t *testing.T) {
	const n = 5
	probes := make([]*Probe, n)
	for i := range probes {
		probes[i] = newProbe(t, Config{
			Name:    fmt.Sprintf("p%d", i),
			Timeout: 3 * time.Second,
			Pause:   20 * time.Millisecond,
			Check:   sleepThen(300*time.Millisecond, true),
		})
	}
	for _, p := range probes {
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	time.Sleep(100 * time.Millisecond)
	for _, p := range probes {
		if !p.IsAlive() {
			t.Fatalf("%s not alive at 100ms", p.Name())
		}
	}

	time.Sleep(500 * time.Millisecond)
	for _, p := range probes {
		if p.IsAlive() {
			t.Fatalf("%s still alive at 600ms", p.Name())
		}
		if err := p.Join(); err != nil {
			t.Fatalf("%s Join: %v", p.Name(), err)
		}
		if p.State() != StateSucceeded {
			t.Fatalf("%s state = %s", p.Name(), p.State())
		}
	}
}

func TestTerminate_StopsOnlyThatProbe(t *testing.T) {
	victim := newProbe(t, Config{Name: "victim", Timeout: 10 * time.Second, Pause: 10 * time.Millisecond, Check: always(false, nil)})
	other := newProbe(t, Config{Name: "other", Timeout: 3 * time.Second, Pause: 10 * time.Millisecond, Check: sleepThen(200*time.Millisecond, true)})

	if err := victim.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := other.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	victim.Terminate()
	if victim.IsAlive() {
		t.Fatalf("victim alive after Terminate")
	}
	if victim.State() != StateCancelled {
		t.Fatalf("victim state = %s", victim.State())
	}
	if err := victim.Join(); err != nil {
		t.Fatalf("Join after Terminate should be nil, got %v", err)
	}
	if !errors.Is(victim.Err(), ErrTerminated) {
		t.Fatalf("Err should carry ErrTerminated, got %v", victim.Err())
	}
	victim.Terminate() // no-op

	if !other.IsAlive() {
		t.Fatalf("terminating one probe stopped another")
	}
	if err := other.Join(); err != nil || other.State() != StateSucceeded {
		t.Fatalf("other: state=%s err=%v", other.State(), err)
	}
}

func TestTerminate_KillsRunningWorker(t *testing.T) {
	stopped := make(chan struct{})
	p := newProbe(t, Config{
		Timeout: 10 * time.Second,
		Check: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			close(stopped)
			return nil, ctx.Err()
		},
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	p.Terminate()

	select {
	case <-stopped:
	default:
		t.Fatalf("worker still running after Terminate returned")
	}
}

func TestJoin_ReturnsRunError(t *testing.T) {
	p := newProbe(t, Config{Timeout: 50 * time.Millisecond, Check: always(false, nil)})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Join(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("want timeout from Join, got %v", err)
	}
	// repeated Join returns the same result
	if err := p.Join(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("second Join: %v", err)
	}
}

func TestStart_BusyWhileRunning(t *testing.T) {
	p := newProbe(t, Config{Timeout: time.Second, Check: sleepThen(100*time.Millisecond, true)})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start: want ErrBusy, got %v", err)
	}
	if _, err := p.Run(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("Run while started: want ErrBusy, got %v", err)
	}
	if err := p.Join(); err != nil {
		t.Fatal(err)
	}

	// reusable once stopped
	if ok, err := p.Run(context.Background()); !ok || err != nil {
		t.Fatalf("Run after Join: (%v, %v)", ok, err)
	}
}

func TestStart_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newProbe(t, Config{Timeout: 10 * time.Second, Pause: 10 * time.Millisecond, Check: always(false, nil)})
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	<-p.Done()
	if p.State() != StateCancelled {
		t.Fatalf("state = %s", p.State())
	}
	if err := p.Join(); err != nil {
		t.Fatalf("cancelled run joins cleanly, got %v", err)
	}
}
