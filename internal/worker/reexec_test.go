package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/waitprobe/internal/probe"
)

func reexecProbe(t *testing.T, name string, args map[string]string, cfg probe.Config) *probe.Probe {
	t.Helper()
	inv, err := testRegistry.Invoker(name, args)
	if err != nil {
		t.Fatalf("Invoker: %v", err)
	}
	cfg.Name = name
	p, err := probe.New(cfg, probe.WithInvoker(inv), probe.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestReexec_Success(t *testing.T) {
	p := reexecProbe(t, "ok", nil, probe.Config{Timeout: 10 * time.Second})
	if ok, err := p.Run(context.Background()); !ok || err != nil {
		t.Fatalf("want success, got (%v, %v)", ok, err)
	}
}

func TestReexec_ValueIsDecodedIntoExpectedType(t *testing.T) {
	p := reexecProbe(t, "status", nil, probe.Config{Timeout: 10 * time.Second, Expected: 204})
	if ok, err := p.Run(context.Background()); !ok || err != nil {
		t.Fatalf("want success, got (%v, %v)", ok, err)
	}

	p = reexecProbe(t, "echo", map[string]string{"say": "ready"}, probe.Config{Timeout: 10 * time.Second, Expected: "ready"})
	if ok, err := p.Run(context.Background()); !ok || err != nil {
		t.Fatalf("args not passed to the worker: (%v, %v)", ok, err)
	}
}

func TestReexec_TaggedErrorCrossesProcess(t *testing.T) {
	p := reexecProbe(t, "warming", nil, probe.Config{Timeout: 10 * time.Second})
	_, err := p.Run(context.Background())
	if !errors.Is(err, probe.ErrFatal) || probe.TagOf(err) != probe.TagNotReady {
		t.Fatalf("want fatal not_ready, got %v", err)
	}
	if strings.Count(err.Error(), "not_ready") != 1 || !strings.Contains(err.Error(), "warming up") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestReexec_RetryableErrorTimesOut(t *testing.T) {
	p := reexecProbe(t, "warming", nil, probe.Config{
		Timeout:   3 * time.Second,
		Pause:     100 * time.Millisecond,
		Retryable: []probe.Tag{probe.TagNotReady},
	})
	_, err := p.Run(context.Background())
	var te *probe.TimeoutError
	if !errors.As(err, &te) || te.Last == nil || probe.TagOf(te.Last.Err) != probe.TagNotReady {
		t.Fatalf("want timeout with last not_ready, got %v", err)
	}
	if te.Attempts < 2 {
		t.Fatalf("want the not_ready worker retried, got %d attempts", te.Attempts)
	}
}

func TestReexec_VanishedWorkerIsNoResult(t *testing.T) {
	for _, name := range []string{"exit", "panic"} {
		p := reexecProbe(t, name, nil, probe.Config{Timeout: 10 * time.Second, Retryable: probe.Tags()})
		_, err := p.Run(context.Background())
		if !errors.Is(err, probe.ErrFatal) || !errors.Is(err, probe.ErrNoResult) {
			t.Fatalf("%s: want fatal ErrNoResult, got %v", name, err)
		}
	}
}

// recordingInvoker keeps the workers it started.
type recordingInvoker struct {
	probe.Invoker
	mu      sync.Mutex
	workers []probe.Worker
}

func (r *recordingInvoker) Start(ctx context.Context, id probe.AttemptID, out *probe.Channel) (probe.Worker, error) {
	w, err := r.Invoker.Start(ctx, id, out)
	if err == nil {
		r.mu.Lock()
		r.workers = append(r.workers, w)
		r.mu.Unlock()
	}
	return w, err
}

func TestReexec_HangingWorkerIsKilledAndReaped(t *testing.T) {
	inv, err := testRegistry.Invoker("hang", nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recordingInvoker{Invoker: inv}
	p, err := probe.New(probe.Config{Name: "hang", Timeout: 500 * time.Millisecond, Pause: 50 * time.Millisecond},
		probe.WithInvoker(rec))
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = p.Run(context.Background())
	if !errors.Is(err, probe.ErrTimeout) {
		t.Fatalf("want timeout, got %v", err)
	}
	if d := time.Since(start); d > 500*time.Millisecond+time.Second {
		t.Fatalf("hanging worker held the run for %s", d)
	}
	if len(rec.workers) != 1 {
		t.Fatalf("want 1 worker, got %d", len(rec.workers))
	}
	select {
	case <-rec.workers[0].Exited():
	default:
		t.Fatalf("worker not reaped when Run returned")
	}
}

func TestReexec_TerminateDetached(t *testing.T) {
	p := reexecProbe(t, "hang", nil, probe.Config{Timeout: time.Minute})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if !p.IsAlive() {
		t.Fatalf("probe should be alive")
	}
	p.Terminate()
	if p.IsAlive() || p.State() != probe.StateCancelled {
		t.Fatalf("alive=%v state=%s after Terminate", p.IsAlive(), p.State())
	}
	if err := p.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestRegistry_Invoker(t *testing.T) {
	if _, err := testRegistry.Invoker("missing", nil); err == nil {
		t.Fatalf("want error for unregistered check")
	}
	names := testRegistry.Names()
	if len(names) == 0 || names[0] != "echo" {
		t.Fatalf("names not sorted: %v", names)
	}
}

func TestRegistry_BadExecutableIsStartError(t *testing.T) {
	reg := NewRegistry()
	reg.Executable = "/nonexistent/waitprobe"
	reg.Register("ok", func(context.Context, map[string]string) (any, error) { return true, nil })
	inv, err := reg.Invoker("ok", nil)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := probe.New(probe.Config{Name: "x", Timeout: time.Second}, probe.WithInvoker(inv))
	if _, err := p.Run(context.Background()); !errors.Is(err, probe.ErrWorkerStart) {
		t.Fatalf("want ErrWorkerStart, got %v", err)
	}
}

func TestEnvelope(t *testing.T) {
	var e envelope
	e.set(nil, probe.Errorf(probe.TagTimeout, "dial timed out"))
	r := e.result()
	if probe.TagOf(r.Err) != probe.TagTimeout || r.Err.Error() != "timeout: dial timed out" {
		t.Fatalf("unexpected error %v", r.Err)
	}

	e = envelope{}
	e.set(map[string]int{"n": 1}, nil)
	r = e.result()
	v, ok := r.Value.(Value)
	if !ok || v.String() != `{"n":1}` {
		t.Fatalf("unexpected value %#v", r.Value)
	}
	var out map[string]int
	if err := v.Decode(&out); err != nil || out["n"] != 1 {
		t.Fatalf("Decode: %v %v", out, err)
	}

	e = envelope{}
	e.set(make(chan int), nil)
	if e.Error == nil || e.Error.Tag != probe.TagInvalid {
		t.Fatalf("unencodable value should be invalid: %+v", e.Error)
	}
}
