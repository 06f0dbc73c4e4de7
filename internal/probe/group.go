package probe

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Group runs several probes detached at the same time. Probes share no
// state; terminating the group terminates each of them.
type Group struct {
	mu     sync.Mutex
	probes []*Probe
}

// NewGroup returns a group of the given probes.
func NewGroup(probes ...*Probe) *Group {
	return &Group{probes: append([]*Probe(nil), probes...)}
}

// Add appends a probe. It is not started.
func (g *Group) Add(p *Probe) {
	g.mu.Lock()
	g.probes = append(g.probes, p)
	g.mu.Unlock()
}

// Probes returns the members.
func (g *Group) Probes() []*Probe {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Probe(nil), g.probes...)
}

// Start starts every probe. Probes started before an error keep running.
func (g *Group) Start(ctx context.Context) error {
	var err error
	for _, p := range g.Probes() {
		err = multierr.Append(err, p.Start(ctx))
	}
	return err
}

// Run starts every probe and joins them.
func (g *Group) Run(ctx context.Context) error {
	if err := g.Start(ctx); err != nil {
		g.Terminate()
		return err
	}
	return g.Join()
}

// Terminate terminates every probe concurrently and waits for all of them.
func (g *Group) Terminate() {
	var wg sync.WaitGroup
	for _, p := range g.Probes() {
		wg.Add(1)
		go func(p *Probe) {
			defer wg.Done()
			p.Terminate()
		}(p)
	}
	wg.Wait()
}

// Join waits for every probe and combines their errors.
func (g *Group) Join() error {
	var err error
	for _, p := range g.Probes() {
		err = multierr.Append(err, p.Join())
	}
	return err
}

// States maps probe names to their current state.
func (g *Group) States() map[string]State {
	out := make(map[string]State)
	for _, p := range g.Probes() {
		out[p.Name()] = p.State()
	}
	return out
}
