package plugin

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry holds the live data plugins keyed by protocol. Registering a
// protocol twice replaces the earlier plugin.
type Registry struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	plugins map[string]Plugin
	order   []string
}

// NewRegistry creates an empty plugin registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		plugins: make(map[string]Plugin),
		order:   make([]string, 0),
	}
}

// SetLogger replaces the registry logger.
func (r *Registry) SetLogger(logger *zap.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds a plugin under its protocol. A replaced plugin keeps its
// position in the initialisation order.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin cannot be nil")
	}
	protocol := p.Protocol()
	if protocol == "" {
		return fmt.Errorf("plugin protocol cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[protocol]; exists {
		r.logger.Warn("Replacing data plugin",
			zap.String("protocol", protocol))
	} else {
		r.order = append(r.order, protocol)
	}
	r.plugins[protocol] = p

	r.logger.Debug("Data plugin registered", zap.String("protocol", protocol))
	return nil
}

// Get returns the plugin for a protocol.
func (r *Registry) Get(protocol string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[protocol]
	return p, ok
}

// List returns all plugins in registration order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, 0, len(r.order))
	for _, protocol := range r.order {
		result = append(result, r.plugins[protocol])
	}
	return result
}

// Protocols returns the registered protocol names in registration order.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// InitialiseAll initialises plugins in registration order and stops at the
// first failure.
func (r *Registry) InitialiseAll() error {
	for _, p := range r.List() {
		r.logger.Info("Initialising data plugin", zap.String("protocol", p.Protocol()))
		if err := p.Initialise(); err != nil {
			return fmt.Errorf("failed to initialise plugin %s: %w", p.Protocol(), err)
		}
	}
	return nil
}

// TerminateAll terminates plugins in reverse registration order. A failing
// plugin does not prevent the others from terminating; all failures are
// returned combined.
func (r *Registry) TerminateAll() error {
	plugins := r.List()

	var errs error
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := terminate(p); err != nil {
			r.logger.Warn("Error terminating data plugin",
				zap.String("protocol", p.Protocol()),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Protocol(), err))
		}
	}
	return errs
}

func terminate(p Plugin) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during terminate: %v", rec)
		}
	}()
	return p.Terminate()
}

// Clear removes all registered plugins. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins = make(map[string]Plugin)
	r.order = make([]string, 0)
}

// Global registry instance.
var globalRegistry = NewRegistry(nil)

// Global returns the process-wide registry.
func Global() *Registry {
	return globalRegistry
}

// Register adds a plugin to the global registry.
func Register(p Plugin) error {
	return globalRegistry.Register(p)
}

// Get returns a plugin from the global registry.
func Get(protocol string) (Plugin, bool) {
	return globalRegistry.Get(protocol)
}

// List returns all plugins from the global registry.
func List() []Plugin {
	return globalRegistry.List()
}

// InitialiseAll initialises every plugin in the global registry.
func InitialiseAll() error {
	return globalRegistry.InitialiseAll()
}

// TerminateAll terminates every plugin in the global registry.
func TerminateAll() error {
	return globalRegistry.TerminateAll()
}

// ClearGlobal clears the global registry. Useful for testing.
func ClearGlobal() {
	globalRegistry.Clear()
}
