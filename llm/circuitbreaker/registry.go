package circuitbreaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry owns one breaker per provider name. Breakers are created lazily
// on first use and live as long as the registry. The map lock is held only
// for lookup and creation; each breaker serializes its own transitions, so
// calls against different providers never contend.
type Registry struct {
	config *Config
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*breaker
}

// NewRegistry creates an empty registry; every breaker shares config.
func NewRegistry(config *Config, logger *zap.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = newBreaker(name, r.config, r.logger)
	r.breakers[name] = b
	return b
}

// Lookup returns an existing breaker without creating one.
func (r *Registry) Lookup(name string) (CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Reset closes the named breaker. It reports false when no breaker exists yet.
func (r *Registry) Reset(name string) bool {
	b, ok := r.Lookup(name)
	if ok {
		b.Reset()
	}
	return ok
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	all := make([]*breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	r.mu.RUnlock()

	for _, b := range all {
		b.Reset()
	}
}

// Snapshots returns every breaker's state sorted by provider name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of breakers created so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}
