package resilience

import (
	"log/slog"
	"sort"
	"sync"
)

// Health aggregates the state of every breaker in a Registry.
type Health struct {
	TotalBreakers   int
	OpenBreakers    int
	HealthyBreakers int
	OverallHealthy  bool
}

// Registry owns named Breaker instances. Breakers live for the process
// lifetime; the first registration of a name fixes its configuration.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// cfg on first use. A later call with a different cfg for the same name
// returns the existing instance unchanged: silent runtime reconfiguration
// of a live breaker is worse than a stale threshold.
func (r *Registry) GetOrCreate(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, cfg, r.logger)
	r.breakers[name] = b
	return b
}

// Get returns the breaker registered under name, if any.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Health reports aggregate breaker health. A breaker counts as healthy when
// it is not OPEN; HALF_OPEN is a recovering state, not a failing one.
func (r *Registry) Health() Health {
	breakers := r.all()

	h := Health{TotalBreakers: len(breakers)}
	for _, b := range breakers {
		if b.State() == StateOpen {
			h.OpenBreakers++
		} else {
			h.HealthyBreakers++
		}
	}
	h.OverallHealthy = h.OpenBreakers == 0
	return h
}

// ByState returns the breakers currently in the given state, sorted by name.
func (r *Registry) ByState(state State) []*Breaker {
	var out []*Breaker
	for _, b := range r.all() {
		if b.State() == state {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// AllStats returns stats for every registered breaker, sorted by name.
func (r *Registry) AllStats() []Stats {
	breakers := r.all()
	out := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// all snapshots the breaker set so state reads happen outside r.mu,
// avoiding lock nesting with each breaker's own mutex.
func (r *Registry) all() []*Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b)
	}
	return out
}
