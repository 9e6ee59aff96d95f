// Package settings serves operator preferences as settable channels under
// the "settings" protocol. Settings are declared in the configuration file
// and persistent ones survive restarts through a plugin.Store.
package settings

import (
	"fmt"
	"math"
	"sort"

	"cncpanel/internal/channel"
	"cncpanel/internal/metrics"
	"cncpanel/pkg/plugin"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Protocol is the URL protocol served by the plugin.
const Protocol = "settings"

// namespace groups setting values in the store.
const namespace = "settings"

// Definition declares one setting.
type Definition struct {
	Default     any      `yaml:"default"`
	Min         *float64 `yaml:"min"`
	Max         *float64 `yaml:"max"`
	Options     []string `yaml:"options"`
	Persistent  *bool    `yaml:"persistent"`
	Description string   `yaml:"description"`
}

// IsPersistent reports whether the value is saved on shutdown. Settings
// are persistent unless declared otherwise.
func (d Definition) IsPersistent() bool {
	return d.Persistent == nil || *d.Persistent
}

// Setting is a declared setting and its channel.
type Setting struct {
	Name       string
	Definition Definition
	Channel    *channel.Channel

	typ     channel.Type
	initial any
}

// Default returns the normalised default value.
func (s *Setting) Default() any { return s.initial }

// Normalise converts v to the setting's type and clamps it into range.
// Enum settings also accept an option name.
func (s *Setting) Normalise(v any) (any, error) {
	if len(s.Definition.Options) > 0 {
		if name, ok := v.(string); ok {
			for i, opt := range s.Definition.Options {
				if opt == name {
					return i, nil
				}
			}
		}
	}

	switch s.typ {
	case channel.TypeBool:
		return channel.ToBool(v)
	case channel.TypeInt:
		n, err := channel.ToInt(v)
		if err != nil {
			return nil, err
		}
		return int(s.clamp(float64(n))), nil
	case channel.TypeFloat:
		f, err := channel.ToFloat(v)
		if err != nil {
			return nil, err
		}
		return s.clamp(f), nil
	case channel.TypeString:
		return channel.FormatValue(v), nil
	default:
		return v, nil
	}
}

func (s *Setting) clamp(f float64) float64 {
	d := s.Definition
	if len(d.Options) > 0 {
		return math.Max(0, math.Min(f, float64(len(d.Options)-1)))
	}
	if d.Max != nil {
		f = math.Min(f, *d.Max)
	}
	if d.Min != nil {
		f = math.Max(f, *d.Min)
	}
	return f
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Plugin) { p.metrics = m }
}

// WithStore persists settings in s.
func WithStore(s plugin.Store) Option {
	return func(p *Plugin) { p.store = s }
}

// Plugin is the settings data plugin.
type Plugin struct {
	*plugin.DataPlugin

	logger   *zap.Logger
	metrics  *metrics.Metrics
	store    plugin.Store
	settings map[string]*Setting
}

// New creates a plugin serving the given definitions.
func New(defs map[string]Definition, opts ...Option) (*Plugin, error) {
	p := &Plugin{settings: make(map[string]*Setting, len(defs))}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.DataPlugin = plugin.NewDataPlugin(Protocol, p.logger, p.metrics)

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s, err := p.newSetting(name, defs[name])
		if err != nil {
			return nil, err
		}
		if err := p.AddChannel(s.Channel); err != nil {
			return nil, err
		}
		p.settings[name] = s
	}
	return p, nil
}

func (p *Plugin) newSetting(name string, def Definition) (*Setting, error) {
	s := &Setting{Name: name}

	switch {
	case len(def.Options) > 0:
		s.typ = channel.TypeInt
		if def.Default == nil {
			def.Default = 0
		}
	case def.Default == nil:
		s.typ = channel.TypeAny
	default:
		s.typ = channel.TypeOf(def.Default)
	}
	s.Definition = def

	initial, err := s.Normalise(def.Default)
	if err != nil {
		return nil, fmt.Errorf("setting %s: invalid default: %w", name, err)
	}
	s.initial = initial

	opts := []channel.Option{
		channel.WithType(s.typ),
		channel.WithValue(initial),
		channel.WithDescription(def.Description),
		channel.WithLogger(p.logger),
		channel.WithMetrics(p.metrics),
		channel.WithSetter(func(c *channel.Channel, v any) error {
			n, err := s.Normalise(v)
			if err != nil {
				return fmt.Errorf("setting %s: %w", name, err)
			}
			c.Store(n)
			return nil
		}),
	}
	if len(def.Options) > 0 {
		opts = append(opts, channel.WithFormatter(func(c *channel.Channel, q channel.Query) (string, error) {
			i, err := channel.ToInt(c.Raw())
			if err != nil || i < 0 || i >= len(def.Options) {
				return "", fmt.Errorf("%w: option %v", channel.ErrBadIndex, c.Raw())
			}
			return def.Options[i], nil
		}))
	}

	s.Channel = channel.New(name, opts...)
	return s, nil
}

// Setting returns a declared setting by name.
func (p *Plugin) Setting(name string) (*Setting, bool) {
	s, ok := p.settings[name]
	return s, ok
}

// Reset restores a setting to its default.
func (p *Plugin) Reset(name string) error {
	s, ok := p.settings[name]
	if !ok {
		return fmt.Errorf("unknown setting %q", name)
	}
	return s.Channel.Set(s.initial)
}

// Initialise restores persisted values.
func (p *Plugin) Initialise() error {
	if p.store != nil {
		for _, name := range p.SortedNames() {
			s := p.settings[name]
			if !s.Definition.IsPersistent() {
				continue
			}

			var v any
			found, err := p.store.Get(namespace, name, &v)
			if err != nil {
				p.logger.Warn("Failed to restore setting",
					zap.String("setting", name),
					zap.Error(err))
				continue
			}
			if !found {
				continue
			}
			if err := s.Channel.Set(v); err != nil {
				p.logger.Warn("Ignoring stored setting value",
					zap.String("setting", name),
					zap.Any("value", v),
					zap.Error(err))
			}
		}
	}

	p.SetState(plugin.StatePolling)
	p.logger.Info("Settings loaded", zap.Int("count", len(p.settings)))
	return nil
}

// Terminate saves persistent settings that differ from their default and
// forgets the ones that are back at it.
func (p *Plugin) Terminate() error {
	defer p.SetState(plugin.StateStopped)
	if p.store == nil {
		return nil
	}

	var errs error
	for _, name := range p.SortedNames() {
		s := p.settings[name]
		if !s.Definition.IsPersistent() {
			continue
		}

		v := s.Channel.Raw()
		if cmp.Equal(v, s.initial) {
			errs = multierr.Append(errs, p.store.Delete(namespace, name))
			continue
		}
		errs = multierr.Append(errs, p.store.Put(namespace, name, v))
	}
	if errs != nil {
		p.logger.Error("Failed to save settings", zap.Error(errs))
	}
	return errs
}
