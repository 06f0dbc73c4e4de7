package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/waitprobe/internal/domain"
)

// DefaultKeep is the number of runs kept per probe when New gets 0.
const DefaultKeep = 100

type Store struct {
	mu     sync.RWMutex
	keep   int
	runs   map[string][]*domain.Run // per probe, oldest first
	alerts map[string]domain.AlertRecord
}

// New returns a store keeping at most keep runs per probe.
func New(keep int) *Store {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Store{
		keep:   keep,
		runs:   make(map[string][]*domain.Run),
		alerts: make(map[string]domain.AlertRecord),
	}
}

func (m *Store) Append(ctx context.Context, r *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = domain.RunID(uuid.NewString())
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	cp := *r
	rs := append(m.runs[r.Probe], &cp)
	if len(rs) > m.keep {
		// Copy so trimmed runs are not pinned by the old backing array.
		rs = append(make([]*domain.Run, 0, m.keep), rs[len(rs)-m.keep:]...)
	}
	m.runs[r.Probe] = rs
	return nil
}

func (m *Store) Latest(ctx context.Context) ([]domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Run, 0, len(m.runs))
	for _, rs := range m.runs {
		if len(rs) == 0 {
			continue
		}
		latest := rs[0]
		for _, r := range rs[1:] {
			if !r.FinishedAt.Before(latest.FinishedAt) {
				latest = r
			}
		}
		out = append(out, *latest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Probe < out[j].Probe })
	return out, nil
}

func (m *Store) List(ctx context.Context, probe string, limit int) ([]domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs := m.runs[probe]
	out := make([]domain.Run, 0, len(rs))
	for i := len(rs) - 1; i >= 0; i-- {
		out = append(out, *rs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Store) Get(ctx context.Context, probe string) (*domain.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.alerts[probe]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Store) Set(ctx context.Context, rec domain.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[rec.Probe] = rec
	return nil
}
