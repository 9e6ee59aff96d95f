package status

import (
	"fmt"
	"time"

	"cncpanel/pkg/plugin"
)

func init() {
	plugin.RegisterProvider(plugin.ProviderInfo{
		Name:        Protocol,
		Description: "Machine status poller with per-field change detection",
		Priority:    plugin.PriorityDefault,
		Factory:     createPlugin,
	})
}

// options are the YAML options of the status provider.
type options struct {
	CycleTime   time.Duration `yaml:"cycle_time"`
	NumJoints   *int          `yaml:"joints"`
	NumSpindles *int          `yaml:"spindles"`
	MaxRecent   int           `yaml:"max_recent_files"`
}

// createPlugin creates a status plugin from the plugin context.
func createPlugin(ctx *plugin.Context, opts plugin.Options) (plugin.Plugin, error) {
	if ctx.Machine == nil {
		return nil, fmt.Errorf("status plugin requires a machine status source")
	}

	var o options
	if err := opts.Decode(&o); err != nil {
		return nil, err
	}

	pluginOpts := []Option{
		WithCycleTime(o.CycleTime),
		WithLogger(ctx.Logger.Named(Protocol)),
		WithClock(ctx.Clock),
		WithLoop(ctx.Loop),
		WithMetrics(ctx.Metrics),
		WithReadOnly(ctx.ReadOnly),
		WithStore(ctx.Store),
		WithMaxRecentFiles(o.MaxRecent),
	}
	if o.NumJoints != nil {
		pluginOpts = append(pluginOpts, WithNumJoints(*o.NumJoints))
	}
	if o.NumSpindles != nil {
		pluginOpts = append(pluginOpts, WithNumSpindles(*o.NumSpindles))
	}

	return New(ctx.Machine, pluginOpts...)
}
