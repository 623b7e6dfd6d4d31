package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/quantish/tradebot/internal/domain"
)

// Factory constructs a fresh strategy instance from its configuration.
// Strategies are stateful, so every bot gets its own instance.
type Factory func(cfg Config, logger *slog.Logger) (domain.Strategy, error)

// Registry maps strategy names to factories. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns a Registry with the built-in strategies registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("sma_cross", func(cfg Config, logger *slog.Logger) (domain.Strategy, error) {
		return NewSMACross(cfg.FastPeriod, cfg.SlowPeriod, logger)
	})
	r.Register("mean_reversion", func(cfg Config, logger *slog.Logger) (domain.Strategy, error) {
		return NewMeanReversion(cfg.Lookback, cfg.StdDevThreshold, logger)
	})
	return r
}

// Register adds a factory under the given name, replacing any existing one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build instantiates the strategy named in cfg.
func (r *Registry) Build(cfg Config, logger *slog.Logger) (domain.Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", cfg.Name)
	}
	return f(cfg, logger)
}

// List returns the registered strategy names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
