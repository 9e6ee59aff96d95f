package datetime

import (
	"time"

	"cncpanel/pkg/plugin"
)

func init() {
	plugin.RegisterProvider(plugin.ProviderInfo{
		Name:        Protocol,
		Description: "Current time and date",
		Priority:    plugin.PriorityDefault,
		Factory:     createPlugin,
	})
}

// options are the YAML options of the clock provider
type options struct {
	Interval time.Duration `yaml:"interval"`
}

// createPlugin creates a clock plugin from the plugin context.
func createPlugin(ctx *plugin.Context, opts plugin.Options) (plugin.Plugin, error) {
	var o options
	if err := opts.Decode(&o); err != nil {
		return nil, err
	}

	return New(
		WithInterval(o.Interval),
		WithLogger(ctx.Logger.Named(Protocol)),
		WithClock(ctx.Clock),
		WithLoop(ctx.Loop),
		WithMetrics(ctx.Metrics))
}
