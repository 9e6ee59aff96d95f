// Package panel builds the configured widgets, binds them to channels and
// rules, and renders them in the terminal.
package panel

import (
	"fmt"

	"cncpanel/internal/channel"
	"cncpanel/internal/config"
	"cncpanel/internal/rules"
	"cncpanel/internal/widget"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Resolver resolves channel URLs. Implemented by *resolver.Resolver.
type Resolver interface {
	Resolve(url string) (*channel.Channel, channel.Accessor)
}

// Control is the view of a model widget the panel renders and drives
type Control interface {
	widget.RuleTarget
	Snapshot() widget.Snapshot
	OnChange(fn func())
}

// Item is one built widget
type Item struct {
	Config  config.WidgetConfig
	Control Control

	binding *widget.Binding
	rules   []*rules.Bound
}

// Panel holds the built widgets. Build and Close must run on the event loop.
type Panel struct {
	Title string
	Items []*Item

	changes chan struct{}
	logger  *zap.Logger
}

// NewControl creates the model widget for a configured type
func NewControl(cfg config.WidgetConfig) (Control, error) {
	switch cfg.Type {
	case "label":
		return widget.NewLabel(cfg.Name, cfg.Text), nil
	case "button":
		return widget.NewButton(cfg.Name, cfg.Text), nil
	case "led":
		return widget.NewLED(cfg.Name), nil
	case "number":
		return widget.NewNumber(cfg.Name), nil
	default:
		return nil, fmt.Errorf("widget %s: unknown type %q", cfg.Name, cfg.Type)
	}
}

// Build creates every widget, binds its channel and registers its rules.
// Widgets whose channel or rules fail are still shown; the failures are
// logged and returned together.
func Build(cfg config.PanelConfig, res Resolver, engine *rules.Engine, logger *zap.Logger) (*Panel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Panel{
		Title:   cfg.Title,
		changes: make(chan struct{}, 1),
		logger:  logger,
	}

	var errs error
	for _, wc := range cfg.Widgets {
		control, err := NewControl(wc)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		item := &Item{Config: wc, Control: control}
		control.OnChange(p.changed)

		if wc.Channel != "" {
			ch, acc := res.Resolve(wc.Channel)
			item.binding = widget.Bind(ch, acc, control, logger)
			if item.binding == nil {
				errs = multierr.Append(errs, fmt.Errorf("widget %s: cannot bind %s", wc.Name, wc.Channel))
			}
		}

		if wc.Rules != "" && engine != nil {
			bound, err := engine.Register(control, wc.Rules)
			item.rules = bound
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("widget %s: %w", wc.Name, err))
			}
		}

		p.Items = append(p.Items, item)
	}

	if errs != nil {
		logger.Warn("Panel built with errors", zap.Error(errs))
	}
	logger.Info("Panel built", zap.Int("widgets", len(p.Items)))
	return p, errs
}

// changed records that some widget needs redrawing. Bursts coalesce into
// one pending signal.
func (p *Panel) changed() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

// Changes signals after widget display state changes
func (p *Panel) Changes() <-chan struct{} {
	return p.changes
}

// Close detaches every widget from its channel and rules
func (p *Panel) Close() {
	for _, item := range p.Items {
		item.binding.Close()
		rules.CloseAll(item.rules)
	}
}
