package scheduler

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/waitprobe/internal/config"
	"github.com/hamed0406/waitprobe/internal/probe"
)

func dur(d time.Duration) *config.Duration {
	cd := config.Duration(d)
	return &cd
}

func tcpWatch(name, addr string, timeout time.Duration) config.Watch {
	return config.Watch{
		Name:           name,
		Check:          "tcp",
		Target:         addr,
		Timeout:        config.Duration(timeout),
		Pause:          dur(10 * time.Millisecond),
		AttemptTimeout: config.Duration(200 * time.Millisecond),
		Interval:       config.Duration(time.Hour),
		Retry:          config.DefaultRetryTags,
	}
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSupervisor_RecordsRuns(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	runs := &fakeRuns{}
	f := &config.File{Watches: []config.Watch{
		tcpWatch("up", ln.Addr().String(), 2*time.Second),
		tcpWatch("down", closedAddr(t), 100*time.Millisecond),
	}}
	s, err := NewSupervisor(zap.NewNop(), runs, f, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool {
		rows, _ := runs.Latest(ctx)
		return len(rows) == 2
	})
	cancel()
	<-done

	rows, _ := runs.Latest(context.Background())
	byProbe := map[string]bool{}
	for _, r := range rows {
		byProbe[r.Probe] = r.Ready
		if r.ID == "" || r.Attempts < 1 {
			t.Fatalf("incomplete run: %+v", r)
		}
		if r.Probe == "down" && r.State != probe.StateTimedOut.String() {
			t.Fatalf("closed port should time out, got %s", r.State)
		}
	}
	if !byProbe["up"] || byProbe["down"] {
		t.Fatalf("unexpected readiness: %v", byProbe)
	}

	live := s.Live()
	if len(live) != 2 || live[0].Name != "down" || live[1].Name != "up" {
		t.Fatalf("Live not ordered by name: %+v", live)
	}
}

func TestSupervisor_TerminateStopsCurrentRun(t *testing.T) {
	runs := &fakeRuns{}
	f := &config.File{Watches: []config.Watch{tcpWatch("slow", closedAddr(t), time.Minute)}}
	s, err := NewSupervisor(nil, runs, f, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return s.Live()[0].Alive })
	if err := s.Terminate("slow"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if s.Live()[0].Alive {
		t.Fatalf("probe still alive after Terminate")
	}
	waitFor(t, func() bool {
		rows, _ := runs.Latest(ctx)
		return len(rows) == 1
	})
	if st := runs.rows[0].State; st != probe.StateCancelled.String() {
		t.Fatalf("want cancelled run, got %s", st)
	}

	if err := s.Terminate("nope"); !errors.Is(err, ErrUnknownProbe) {
		t.Fatalf("want ErrUnknownProbe, got %v", err)
	}
	s.TerminateAll()
}

func TestNewProbe_RejectsIsolateWithoutRegistry(t *testing.T) {
	w := tcpWatch("x", "127.0.0.1:1", time.Second)
	w.Isolate = true
	if _, err := NewProbe(w, nil, zap.NewNop()); err == nil {
		t.Fatalf("want error without registry")
	}
	w = tcpWatch("y", "127.0.0.1:1", time.Second)
	w.Check = "smtp"
	if _, err := NewProbe(w, nil, nil); err == nil {
		t.Fatalf("want error for unknown check")
	}
}
