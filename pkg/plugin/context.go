package plugin

import (
	"fmt"

	"cncpanel/internal/clock"
	"cncpanel/internal/linuxcnc"
	"cncpanel/internal/loop"
	"cncpanel/internal/metrics"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store persists small values between runs. Implemented by internal/persist.
type Store interface {
	Get(namespace, key string, v any) (bool, error)
	Put(namespace, key string, v any) error
	Delete(namespace, key string) error
}

// Context provides dependencies to plugin factories.
type Context struct {
	// Logger is a structured logger for the plugin to use.
	// Plugins should use logger.Named("protocol") for namespacing.
	Logger *zap.Logger

	// Loop is the event loop all channel updates run on.
	Loop *loop.Loop

	// Clock drives poll timers.
	Clock clock.Clock

	// Metrics records tick and update counts. May be nil.
	Metrics *metrics.Metrics

	// Machine is the machine-control status source.
	Machine linuxcnc.Source

	// Store persists settings between runs. May be nil.
	Store Store

	// ReadOnly indicates that settable channels must not write to the machine.
	ReadOnly bool

	// ConfigDir is the path to the configuration directory.
	ConfigDir string

	// built holds the plugins created so far by the running Build, by protocol.
	built map[string]Plugin
}

// Built returns a plugin created earlier in the same Build call. Factories
// use it to depend on plugins listed before them in the configuration.
func (c *Context) Built(protocol string) (Plugin, bool) {
	p, ok := c.built[protocol]
	return p, ok
}

// NewContext creates a plugin context. A nil logger or clock is replaced
// with a no-op logger and the real clock.
func NewContext(logger *zap.Logger, l *loop.Loop, c clock.Clock, m *metrics.Metrics) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.NewReal()
	}
	return &Context{
		Logger:  logger,
		Loop:    l,
		Clock:   c,
		Metrics: m,
	}
}

// Options are the provider-specific settings of one configured plugin.
type Options map[string]any

// Decode copies the options into a typed struct using its yaml tags.
func (o Options) Decode(into any) error {
	if len(o) == 0 {
		return nil
	}
	data, err := yaml.Marshal(map[string]any(o))
	if err != nil {
		return fmt.Errorf("failed to encode plugin options: %w", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to decode plugin options: %w", err)
	}
	return nil
}
