package settings

import (
	"cncpanel/pkg/plugin"
)

func init() {
	plugin.RegisterProvider(plugin.ProviderInfo{
		Name:        Protocol,
		Description: "Operator settings declared in the configuration file",
		Priority:    plugin.PriorityDefault,
		Factory:     createPlugin,
	})
}

// options are the YAML options of the settings provider.
type options struct {
	Settings map[string]Definition `yaml:"settings"`
}

// createPlugin creates a settings plugin from the plugin context.
func createPlugin(ctx *plugin.Context, opts plugin.Options) (plugin.Plugin, error) {
	var o options
	if err := opts.Decode(&o); err != nil {
		return nil, err
	}

	pluginOpts := []Option{
		WithLogger(ctx.Logger.Named(Protocol)),
		WithMetrics(ctx.Metrics),
	}
	if ctx.Store != nil {
		pluginOpts = append(pluginOpts, WithStore(ctx.Store))
	}

	return New(o.Settings, pluginOpts...)
}
