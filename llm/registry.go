package llm

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"
)

type registryEntry struct {
	config  ModelConfig
	handler Handler
}

// ModelRegistry is a thread-safe registry of the handlers that are usable in
// this process. It is created once, passed down to the orchestrator and the
// HTTP layer, and closed on shutdown.
type ModelRegistry struct {
	entries      map[string]registryEntry
	defaultModel string
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewModelRegistry creates an empty ModelRegistry.
func NewModelRegistry(logger *zap.Logger) *ModelRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelRegistry{
		entries: make(map[string]registryEntry),
		logger:  logger.With(zap.String("component", "model_registry")),
	}
}

// Register adds a handler under cfg.Name. An existing binding with the same
// name is replaced.
func (r *ModelRegistry) Register(cfg ModelConfig, h Handler) error {
	if h == nil {
		return fmt.Errorf("model %q: handler is nil", cfg.Name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[cfg.Name]; exists {
		r.logger.Warn("replacing model binding", zap.String("model", cfg.Name))
	}
	r.entries[cfg.Name] = registryEntry{config: cfg.WithDefaults(), handler: h}
	return nil
}

// Get retrieves a handler and its configuration by name.
func (r *ModelRegistry) Get(name string) (Handler, ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handler, e.config, ok
}

// Has reports whether name is registered.
func (r *ModelRegistry) Has(name string) bool {
	_, _, ok := r.Get(name)
	return ok
}

// SetDefault designates an existing binding as the default.
func (r *ModelRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("model %q not registered", name)
	}
	r.defaultModel = name
	return nil
}

// Default returns the default model name, or "" when none is set.
func (r *ModelRegistry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// List returns the sorted names of all registered bindings.
func (r *ModelRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configs returns the registered configurations sorted by name.
func (r *ModelRegistry) Configs() []ModelConfig {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelConfig, 0, len(names))
	for _, name := range names {
		if e, ok := r.entries[name]; ok {
			out = append(out, e.config)
		}
	}
	return out
}

// Unregister removes a binding. If it was the default, the default is cleared.
func (r *ModelRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
	if r.defaultModel == name {
		r.defaultModel = ""
	}
}

// Len returns the number of registered bindings.
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close releases handlers that hold resources and empties the registry.
func (r *ModelRegistry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]registryEntry)
	r.defaultModel = ""
	r.mu.Unlock()

	var errs []error
	for name, e := range entries {
		if c, ok := e.handler.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
