package plugin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/wolo/internal/config"
)

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
	enabled map[string]bool
	logger  *zap.Logger
}

// NewRegistry creates a new plugin registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		enabled: make(map[string]bool),
		logger:  logger,
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}

	r.plugins[name] = p
	r.order = append(r.order, name)
	r.logger.Debug("plugin registered", zap.String("name", name), zap.String("version", p.Version()))
	return nil
}

// InitAll initializes every plugin whose "<name>.enabled" key is true.
// Disabled plugins are skipped by StartAll, StopAll and AllRoutes.
func (r *Registry) InitAll(cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if !cfg.GetBool(name + ".enabled") {
			r.logger.Info("plugin disabled, skipping", zap.String("name", name))
			continue
		}
		p := r.plugins[name]
		if err := p.Init(cfg, r.logger.Named(name)); err != nil {
			return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
		}
		r.enabled[name] = true
	}
	return nil
}

// StartAll starts all initialized plugins in registration order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := r.plugins[name].Start(ctx); err != nil {
			return fmt.Errorf("failed to start plugin %q: %w", name, err)
		}
	}
	return nil
}

// StopAll stops all initialized plugins in reverse order.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if !r.enabled[name] {
			continue
		}
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Enabled reports whether the named plugin was initialized.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// AllRoutes returns the routes of every initialized plugin, keyed by name.
func (r *Registry) AllRoutes() map[string][]Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]Route)
	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		if pr := r.plugins[name].Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}

// Names returns registered plugin names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
