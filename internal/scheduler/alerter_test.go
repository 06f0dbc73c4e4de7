package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/waitprobe/internal/domain"
	"github.com/hamed0406/waitprobe/internal/notify"
	"github.com/hamed0406/waitprobe/internal/repo/memory"
)

// ---- shared helpers ----

func run(probe, state string, ready bool) domain.Run {
	now := time.Now().UTC()
	return domain.Run{
		Probe:      probe,
		Target:     "tcp db:5432",
		State:      state,
		Ready:      ready,
		Attempts:   3,
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
	}
}

type fakeRuns struct {
	mu   sync.Mutex
	rows []domain.Run
}

func (f *fakeRuns) Append(ctx context.Context, r *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *r)
	return nil
}

func (f *fakeRuns) Latest(ctx context.Context) ([]domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Run(nil), f.rows...), nil
}

func (f *fakeRuns) List(ctx context.Context, probe string, limit int) ([]domain.Run, error) {
	return f.Latest(ctx)
}

type memNotifier struct {
	n      int
	titles []string
	last   notify.Alert
}

func (m *memNotifier) Send(ctx context.Context, a notify.Alert) error {
	m.n++
	m.titles = append(m.titles, a.Title)
	m.last = a
	return nil
}

// ---- tests ----

func TestAlerter_SendsOnNotReady_RespectsCooldown(t *testing.T) {
	runs := &fakeRuns{rows: []domain.Run{run("A", "timed_out", false)}}
	nt := &memNotifier{}
	al := NewAlerter(runs, memory.New(0), nt, AlerterConfig{
		AlertOnRecovery: true,
		Cooldown:        1 * time.Minute,
		PollInterval:    10 * time.Millisecond,
	}, nil)

	// first scan -> should alert
	if err := al.scanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if nt.n != 1 {
		t.Fatalf("want 1 alert, got %d", nt.n)
	}
	if nt.last.Run.Probe != "A" || nt.last.Run.State != "timed_out" || nt.last.Run.Attempts != 3 {
		t.Fatalf("alert does not carry the run: %+v", nt.last.Run)
	}

	// same failure again -> no new alert
	if err := al.scanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if nt.n != 1 {
		t.Fatalf("want no repeat, got %d", nt.n)
	}

	// ready again -> recovery alert allowed
	runs.rows = []domain.Run{run("A", "succeeded", true)}
	if err := al.scanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if nt.n != 2 {
		t.Fatalf("want recovery alert, got %d", nt.n)
	}
	if nt.titles[1] != "🟢 Probe READY" {
		t.Fatalf("unexpected recovery title %q", nt.titles[1])
	}
}

func TestAlerter_NoRecoveryIfDisabled(t *testing.T) {
	runs := &fakeRuns{rows: []domain.Run{run("B", "succeeded", true)}}
	alerts := memory.New(0)
	nt := &memNotifier{}
	al := NewAlerter(runs, alerts, nt, AlerterConfig{AlertOnRecovery: false}, nil)

	// first time ready -> nothing to report
	if err := al.scanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if nt.n != 0 {
		t.Fatalf("unexpected alert: %d", nt.n)
	}

	// fails -> should alert
	runs.rows = []domain.Run{run("B", "failed", false)}
	if err := al.scanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if nt.n != 1 {
		t.Fatalf("want one failure alert, got %d", nt.n)
	}

	// ready again with recovery off -> no alert, state still recorded
	runs.rows = []domain.Run{run("B", "succeeded", true)}
	if err := al.scanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if nt.n != 1 {
		t.Fatalf("recovery alert sent while disabled")
	}
	rec, _ := alerts.Get(context.Background(), "B")
	if rec == nil || !rec.LastReady {
		t.Fatalf("state not recorded: %+v", rec)
	}
}

func TestAlerter_IgnoresCancelledRuns(t *testing.T) {
	runs := &fakeRuns{rows: []domain.Run{run("C", "cancelled", false)}}
	nt := &memNotifier{}
	al := NewAlerter(runs, memory.New(0), nt, AlerterConfig{}, nil)

	if err := al.scanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if nt.n != 0 {
		t.Fatalf("cancelled run should not alert, got %d", nt.n)
	}
}
