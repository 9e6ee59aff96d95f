package plugin

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Priority constants for provider registration.
// Higher priority values override lower priority providers with the same name.
const (
	// PriorityDefault is the default priority for providers.
	PriorityDefault = 0

	// PriorityOverride is used by site-specific builds to replace a
	// bundled provider.
	PriorityOverride = 100
)

// ProviderInfo describes a plugin provider that can be named in configuration.
type ProviderInfo struct {
	// Name is the provider identifier used in the data_plugins config section.
	Name string

	// Description is a human-readable description of the provider.
	Description string

	// Priority determines which provider wins when multiple providers
	// register with the same name. Higher priority wins.
	Priority int

	// Factory creates new plugin instances.
	Factory Factory
}

// Spec is one configured plugin: which provider builds it and with what options.
type Spec struct {
	Provider string
	Options  Options
}

// Providers manages provider registration. It supports priority-based
// override so a build can replace a bundled provider through import ordering.
type Providers struct {
	mu        sync.RWMutex
	providers map[string]ProviderInfo
	order     []string
}

// NewProviders creates an empty provider table.
func NewProviders() *Providers {
	return &Providers{
		providers: make(map[string]ProviderInfo),
		order:     make([]string, 0),
	}
}

// Register adds a provider.
// If a provider with the same name already exists, the one with higher
// priority wins. If priorities are equal, the later registration wins.
func (p *Providers) Register(info ProviderInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	if info.Factory == nil {
		return fmt.Errorf("provider %s: factory cannot be nil", info.Name)
	}

	existing, exists := p.providers[info.Name]
	if exists {
		if info.Priority < existing.Priority {
			zap.L().Debug("Provider registration skipped",
				zap.String("provider", info.Name),
				zap.Int("priority", info.Priority),
				zap.Int("existing_priority", existing.Priority))
			return nil
		}

		zap.L().Info("Provider being overridden",
			zap.String("provider", info.Name),
			zap.Int("old_priority", existing.Priority),
			zap.Int("new_priority", info.Priority))
	}

	p.providers[info.Name] = info

	if !exists {
		p.order = append(p.order, info.Name)
	}

	return nil
}

// Get returns the provider info for a given name, or nil if not found.
func (p *Providers) Get(name string) *ProviderInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, ok := p.providers[name]
	if !ok {
		return nil
	}
	return &info
}

// Names returns all provider names sorted alphabetically.
func (p *Providers) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]string, len(p.order))
	copy(result, p.order)
	sort.Strings(result)
	return result
}

// Build creates one plugin per spec, in spec order. Each factory can see
// the plugins built before it through Context.Built. If any factory fails,
// plugins already built are terminated and the error is returned.
func (p *Providers) Build(ctx *Context, specs []Spec) ([]Plugin, error) {
	result := make([]Plugin, 0, len(specs))
	if ctx != nil {
		ctx.built = make(map[string]Plugin, len(specs))
	}

	for _, spec := range specs {
		info := p.Get(spec.Provider)
		if info == nil {
			cleanup(result)
			return nil, fmt.Errorf("unknown plugin provider %q", spec.Provider)
		}

		plugin, err := info.Factory(ctx, spec.Options)
		if err != nil {
			cleanup(result)
			return nil, fmt.Errorf("failed to create plugin %s: %w", spec.Provider, err)
		}
		result = append(result, plugin)
		if ctx != nil {
			ctx.built[plugin.Protocol()] = plugin
		}
	}

	return result, nil
}

func cleanup(built []Plugin) {
	for i := len(built) - 1; i >= 0; i-- {
		_ = terminate(built[i])
	}
}

// Clear removes all providers. Useful for testing.
func (p *Providers) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.providers = make(map[string]ProviderInfo)
	p.order = make([]string, 0)
}

// Global provider table.
var globalProviders = NewProviders()

// RegisterProvider adds a provider to the global table.
// This is typically called from init() functions in plugin packages.
func RegisterProvider(info ProviderInfo) error {
	return globalProviders.Register(info)
}

// GetProvider returns provider info from the global table.
func GetProvider(name string) *ProviderInfo {
	return globalProviders.Get(name)
}

// ProviderNames returns all provider names from the global table.
func ProviderNames() []string {
	return globalProviders.Names()
}

// Build creates plugins from the global provider table.
func Build(ctx *Context, specs []Spec) ([]Plugin, error) {
	return globalProviders.Build(ctx, specs)
}
